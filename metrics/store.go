package metrics

import (
	"sync"
	"time"

	"fastsd/session"
)

// DefaultHistoryCapacity is the number of recent results a Summary keeps.
const DefaultHistoryCapacity = 100

// Summary is an in-memory running total of controller activity. It
// implements session.Observer and session.DispatchObserver.
type Summary struct {
	mu sync.RWMutex

	recent []GenerationRecord
	head   int
	size   int

	total        int64
	success      int64
	errors       int64
	rejected     int64
	reshapes     int64
	inits        int64
	initFailures int64
	elapsed      time.Duration
	byBackend    map[string]*backendStats

	startTime time.Time
}

type backendStats struct {
	count   int64
	success int64
	elapsed time.Duration
}

// NewSummary returns a summary that retains capacity recent results.
func NewSummary(capacity int, startTime time.Time) *Summary {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &Summary{
		recent:    make([]GenerationRecord, capacity),
		byBackend: make(map[string]*backendStats),
		startTime: startTime,
	}
}

// ObserveInit implements session.Observer.
func (s *Summary) ObserveInit(opts session.InitOptions, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	if err != nil {
		s.initFailures++
	}
}

// ObserveGeneration implements session.Observer.
func (s *Summary) ObserveGeneration(settings session.GenerationSettings, res session.Result) {
	s.Record(newRecord(settings, res))
}

// ObserveRejection implements session.DispatchObserver.
func (s *Summary) ObserveRejection(kind session.ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected++
}

// Record adds a finished request.
func (s *Summary) Record(rec GenerationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent[s.head] = rec
	s.head = (s.head + 1) % len(s.recent)
	if s.size < len(s.recent) {
		s.size++
	}

	s.total++
	st, ok := s.byBackend[rec.Backend]
	if !ok {
		st = &backendStats{}
		s.byBackend[rec.Backend] = st
	}
	st.count++

	if rec.Status == StatusSuccess {
		s.success++
		s.elapsed += rec.Elapsed
		st.success++
		st.elapsed += rec.Elapsed
	} else {
		s.errors++
	}
	if rec.Reshaped {
		s.reshapes++
	}
}

// Recent returns up to limit results, newest first.
func (s *Summary) Recent(limit int) []GenerationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.size == 0 {
		return []GenerationRecord{}
	}
	if limit > s.size {
		limit = s.size
	}

	out := make([]GenerationRecord, limit)
	n := len(s.recent)
	for i := 0; i < limit; i++ {
		out[i] = s.recent[(s.head-1-i+n)%n]
	}
	return out
}

// Snapshot returns the current totals.
func (s *Summary) Snapshot() SummarySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := SummarySnapshot{
		TotalProcessed:       s.total,
		TotalSuccess:         s.success,
		TotalErrors:          s.errors,
		Rejected:             s.rejected,
		Reshapes:             s.reshapes,
		PipelineInits:        s.inits,
		PipelineInitFailures: s.initFailures,
		ByBackend:            make(map[string]BackendSummary, len(s.byBackend)),
		Uptime:               time.Since(s.startTime),
	}
	if s.total > 0 {
		snap.SuccessRate = float64(s.success) / float64(s.total) * 100
	}
	if s.success > 0 {
		snap.AvgElapsed = s.elapsed / time.Duration(s.success)
	}
	for name, st := range s.byBackend {
		b := BackendSummary{Count: st.count}
		if st.count > 0 {
			b.SuccessRate = float64(st.success) / float64(st.count) * 100
		}
		if st.success > 0 {
			b.AvgElapsed = st.elapsed / time.Duration(st.success)
		}
		snap.ByBackend[name] = b
	}
	return snap
}

func newRecord(settings session.GenerationSettings, res session.Result) GenerationRecord {
	rec := GenerationRecord{
		RequestID:  res.RequestID,
		Backend:    settings.BackendMode.String(),
		ModelID:    settings.ModelID,
		Status:     StatusSuccess,
		Elapsed:    res.Elapsed,
		Reshaped:   res.Reshaped,
		FinishedAt: res.FinishedAt,
	}
	if !res.OK() {
		rec.Status = StatusError
		rec.ErrorKind = res.Err.Kind.String()
	}
	return rec
}
