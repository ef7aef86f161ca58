package service

import (
	"strconv"
	"sync"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
)

// RecentErrorCapacity bounds the ring of recent error envelopes.
const RecentErrorCapacity = 50

// ErrorStatsService keeps process-lifetime error counters and the most recent envelopes.
type ErrorStatsService struct {
	mu       sync.Mutex
	total    int
	byStatus map[string]int
	recent   []domain.ErrorEnvelope
	next     int
}

func NewErrorStatsService() *ErrorStatsService {
	return &ErrorStatsService{
		byStatus: make(map[string]int),
		recent:   make([]domain.ErrorEnvelope, 0, RecentErrorCapacity),
	}
}

func (s *ErrorStatsService) Record(status int, env domain.ErrorEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.byStatus[strconv.Itoa(status)]++

	if len(s.recent) < RecentErrorCapacity {
		s.recent = append(s.recent, env)
		return
	}
	s.recent[s.next] = env
	s.next = (s.next + 1) % RecentErrorCapacity
}

// Snapshot returns a copy with LastErrors ordered oldest first.
func (s *ErrorStatsService) Snapshot() domain.ErrorStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[string]int, len(s.byStatus))
	for k, v := range s.byStatus {
		byStatus[k] = v
	}

	last := make([]domain.ErrorEnvelope, 0, len(s.recent))
	last = append(last, s.recent[s.next:]...)
	last = append(last, s.recent[:s.next]...)

	return domain.ErrorStats{
		TotalErrors:    s.total,
		ErrorsByStatus: byStatus,
		LastErrors:     last,
	}
}

func (s *ErrorStatsService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = 0
	s.byStatus = make(map[string]int)
	s.recent = s.recent[:0]
	s.next = 0
}
