package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/schedulers", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/schedulers/{name}/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/schedulers/{name}/stop", h.SchedulerStop)

	mux.HandleFunc("POST /v1/campaigns/{id}/send", h.SendCampaignNow)
	mux.HandleFunc("POST /v1/campaigns/{id}/report", h.SendCampaignReport)
	mux.HandleFunc("GET /v1/campaigns/{id}/stats", h.CampaignStats)

	mux.HandleFunc("GET /v1/bounces", h.ListBounces)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("campaigner"))
	})

	return mux
}
