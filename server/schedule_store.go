package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrScheduleExists   = errors.New("schedule already exists")
	ErrScheduleNotFound = errors.New("schedule not found")
)

const (
	ScheduleStatusSent   = "sent"
	ScheduleStatusFailed = "failed"
)

// BroadcastSchedule is a persisted cron schedule that periodically
// "sends" a flow to an audience. Sends are simulated; the schedule row
// records when the last one happened and how it went.
type BroadcastSchedule struct {
	ID          string `json:"id"`
	FlowID      string `json:"flowId"`
	Cron        string `json:"cron"`
	Enabled     bool   `json:"enabled"`
	AudienceTag string `json:"audienceTag,omitempty"`

	NextRunAt  time.Time  `json:"nextRunAt"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	LastStatus string     `json:"lastStatus,omitempty"`
	LastError  string     `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScheduleStore provides CRUD and due-schedule queries for broadcasts.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]BroadcastSchedule, error)
	GetSchedule(ctx context.Context, id string) (BroadcastSchedule, bool, error)
	CreateSchedule(ctx context.Context, sched BroadcastSchedule) error
	UpdateSchedule(ctx context.Context, sched BroadcastSchedule) error
	DeleteSchedule(ctx context.Context, id string) error
	DeleteSchedulesByFlow(ctx context.Context, flowID string) error
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]BroadcastSchedule, error)
}

// MemoryScheduleStore is the in-memory ScheduleStore counterpart to
// MemoryStore.
type MemoryScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]BroadcastSchedule
	order     []string
}

// NewMemoryScheduleStore creates an empty in-memory schedule store.
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[string]BroadcastSchedule)}
}

func (s *MemoryScheduleStore) ListSchedules(_ context.Context) ([]BroadcastSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BroadcastSchedule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.schedules[id])
	}
	return out, nil
}

func (s *MemoryScheduleStore) GetSchedule(_ context.Context, id string) (BroadcastSchedule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[id]
	return sched, ok, nil
}

func (s *MemoryScheduleStore) CreateSchedule(_ context.Context, sched BroadcastSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sched.ID]; exists {
		return fmt.Errorf("%w: %s", ErrScheduleExists, sched.ID)
	}
	s.schedules[sched.ID] = sched
	s.order = append(s.order, sched.ID)
	return nil
}

func (s *MemoryScheduleStore) UpdateSchedule(_ context.Context, sched BroadcastSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sched.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, sched.ID)
	}
	s.schedules[sched.ID] = sched
	return nil
}

func (s *MemoryScheduleStore) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	s.remove(id)
	return nil
}

func (s *MemoryScheduleStore) DeleteSchedulesByFlow(_ context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range append([]string{}, s.order...) {
		if s.schedules[id].FlowID == flowID {
			s.remove(id)
		}
	}
	return nil
}

func (s *MemoryScheduleStore) ListDueSchedules(_ context.Context, now time.Time, limit int) ([]BroadcastSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []BroadcastSchedule
	for _, id := range s.order {
		sched := s.schedules[id]
		if sched.Enabled && !sched.NextRunAt.After(now) {
			due = append(due, sched)
			if limit > 0 && len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}

// remove assumes the lock is held.
func (s *MemoryScheduleStore) remove(id string) {
	delete(s.schedules, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

var _ ScheduleStore = (*MemoryScheduleStore)(nil)
