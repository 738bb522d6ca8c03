package service_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lorantk/campaigner/internal/model"
	"github.com/lorantk/campaigner/internal/repo"
	"github.com/lorantk/campaigner/internal/service"
)

// memStore is an in-memory stand-in for the Postgres repositories. It
// mirrors the guarded transitions the SQL layer enforces so the engine
// tests exercise the same state machine.
type memStore struct {
	mu sync.Mutex

	campaigns map[int64]*model.Campaign
	groups    map[int64][]int64
	audience  []model.Recipient

	tasks  map[int64]*model.RecipientTask
	nextID int64
}

var (
	_ repo.CampaignRepository  = (*memStore)(nil)
	_ repo.RecipientRepository = (*memStore)(nil)
	_ repo.TaskRepository      = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[int64]*model.Campaign{},
		groups:    map[int64][]int64{},
		tasks:     map[int64]*model.RecipientTask{},
	}
}

func (s *memStore) addCampaign(c model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.campaigns[c.ID] = &cp
}

func (s *memStore) campaign(id int64) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) task(id int64) model.RecipientTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

func (s *memStore) taskList(campaignID int64) []model.RecipientTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedTasks(campaignID, "")
}

// sortedTasks must be called with s.mu held.
func (s *memStore) sortedTasks(campaignID int64, status model.TaskStatus) []model.RecipientTask {
	var out []model.RecipientTask
	for _, t := range s.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) Due(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Campaign
	for _, c := range s.campaigns {
		if c.Status == model.CampaignCompleted {
			continue
		}
		if c.ScheduledTime.After(now) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GroupIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[campaignID], nil
}

func (s *memStore) MarkInProgress(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, nil
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return false, nil
	}
	c.Status = model.CampaignInProgress
	return true, nil
}

func (s *memStore) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != model.CampaignInProgress {
		return false, nil
	}
	c.Status = model.CampaignCompleted
	return true, nil
}

func (s *memStore) SetReportSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		c.ReportSent = true
	}
	return nil
}

func (s *memStore) ListSubscribed(ctx context.Context, groupIDs []int64) ([]model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Recipient, 0, len(s.audience))
	for _, r := range s.audience {
		if r.SubscriptionStatus == model.Subscribed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) CreateIfAbsent(ctx context.Context, campaignID, recipientID int64, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && t.RecipientID == recipientID {
			return false, nil
		}
	}
	s.nextID++
	s.tasks[s.nextID] = &model.RecipientTask{
		ID:            s.nextID,
		CampaignID:    campaignID,
		RecipientID:   recipientID,
		EmailSnapshot: email,
		Status:        model.TaskPending,
		CreatedAt:     time.Now(),
	}
	return true, nil
}

func (s *memStore) ListPending(ctx context.Context, campaignID int64, limit int) ([]model.RecipientTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sortedTasks(campaignID, model.TaskPending)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListByCampaign(ctx context.Context, campaignID int64) ([]model.RecipientTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedTasks(campaignID, ""), nil
}

func (s *memStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && t.Status == model.TaskPending {
		t.Status = model.TaskSent
		t.SentAt = &at
		t.FailureReason = ""
	}
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok && t.Status == model.TaskPending {
		t.Status = model.TaskFailed
		t.FailureReason = reason
	}
	return nil
}

func (s *memStore) FailByEmail(ctx context.Context, campaignID int64, email, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && strings.EqualFold(t.EmailSnapshot, email) {
			t.Status = model.TaskFailed
			t.FailureReason = reason
			n++
		}
	}
	return n, nil
}

func (s *memStore) Stats(ctx context.Context, campaignID int64) (map[model.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[model.TaskStatus]int{
		model.TaskPending: 0,
		model.TaskSent:    0,
		model.TaskFailed:  0,
	}
	for _, t := range s.tasks {
		if t.CampaignID == campaignID {
			out[t.Status]++
		}
	}
	return out, nil
}

// fakeMailer records everything sent over it. sendErr, when set, is
// consulted before recording and its error returned as the send result.
type fakeMailer struct {
	mu      sync.Mutex
	sent    []model.OutboundEmail
	closed  int
	sendErr func(model.OutboundEmail) error
}

func (m *fakeMailer) Send(ctx context.Context, msg model.OutboundEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		if err := m.sendErr(msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *fakeMailer) messages() []model.OutboundEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.OutboundEmail, len(m.sent))
	copy(out, m.sent)
	return out
}

func dialTo(m service.Mailer) service.DialFunc {
	return func(ctx context.Context) (service.Mailer, error) {
		return m, nil
	}
}
