package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lorantk/campaigner/internal/repo"
	"github.com/lorantk/campaigner/internal/scheduler"
	"github.com/lorantk/campaigner/internal/service"
)

type Handler struct {
	schedulers map[string]*scheduler.Scheduler
	dispatcher *service.Dispatcher
	campaigns  repo.CampaignRepository
	tasks      repo.TaskRepository
	bounces    repo.BounceRepository
}

func NewHandler(
	delivery, bounceScan *scheduler.Scheduler,
	dispatcher *service.Dispatcher,
	campaigns repo.CampaignRepository,
	tasks repo.TaskRepository,
	bounces repo.BounceRepository,
) *Handler {
	return &Handler{
		schedulers: map[string]*scheduler.Scheduler{
			"delivery": delivery,
			"bounces":  bounceScan,
		},
		dispatcher: dispatcher,
		campaigns:  campaigns,
		tasks:      tasks,
		bounces:    bounces,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	for name, s := range h.schedulers {
		out[name] = map[string]any{"running": s.IsRunning()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schedulers[r.PathValue("name")]
	if !ok {
		http.Error(w, "unknown scheduler", http.StatusNotFound)
		return
	}
	s.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": s.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	s, ok := h.schedulers[r.PathValue("name")]
	if !ok {
		http.Error(w, "unknown scheduler", http.StatusNotFound)
		return
	}
	s.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": s.IsRunning()})
}

// SendCampaignNow triggers the immediate full-campaign send path.
func (h *Handler) SendCampaignNow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	sent, failed, err := h.dispatcher.SendNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrCampaignNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sent": sent, "failed": failed})
}

// SendCampaignReport re-triggers the one-shot completion report; a no-op
// when the report flag is already set.
func (h *Handler) SendCampaignReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	if err := h.dispatcher.SendReport(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrCampaignNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"triggered": true})
}

func (h *Handler) CampaignStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	campaign, err := h.campaigns.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if campaign == nil {
		http.Error(w, "campaign not found", http.StatusNotFound)
		return
	}

	stats, err := h.tasks.Stats(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	total := 0
	byStatus := map[string]int{}
	for status, n := range stats {
		byStatus[string(status)] = n
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          campaign.ID,
		"name":        campaign.Name,
		"status":      string(campaign.Status),
		"report_sent": campaign.ReportSent,
		"total":       total,
		"tasks":       byStatus,
	})
}

func (h *Handler) ListBounces(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.bounces.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(items))
	for _, b := range items {
		out = append(out, map[string]any{
			"id":              b.ID,
			"campaign_id":     b.CampaignID,
			"recipient_email": b.RecipientEmail,
			"reason":          b.Reason,
			"message_id":      b.MessageID,
			"processed_at":    b.ProcessedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
