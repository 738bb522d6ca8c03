package service

import "sync"

// campaignLocks gives each campaign an exclusive scope so overlapping
// delivery ticks and manual sends never advance the same campaign
// concurrently. Locks are created on first use and kept for the process
// lifetime; the campaign count is small enough that shedding them is not
// worth the bookkeeping.
type campaignLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newCampaignLocks() *campaignLocks {
	return &campaignLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *campaignLocks) lock(campaignID int64) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[campaignID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[campaignID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
