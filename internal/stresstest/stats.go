package stresstest

import (
	"sort"
)

// Stats holds runtime statistics for a load test
type Stats struct {
	TotalIterations     int
	CompletedIterations int
	SuccessCount        int
	ConnectFailureCount int
	AbnormalCloseCount  int
	TimeoutCount        int
	ErrorCount          int // resolution and send failures
	ActiveWorkers       int
	Durations           []int64 // for percentile calculation
	TotalDurationMs     int64
	MinDurationMs       int64
	MaxDurationMs       int64
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		Durations:     make([]int64, 0, 1000),
		MinDurationMs: -1,
		MaxDurationMs: -1,
	}
}

// AddResult adds an iteration result to the statistics
func (s *Stats) AddResult(durationMs int64, outcome string) {
	s.CompletedIterations++
	s.TotalDurationMs += durationMs
	s.Durations = append(s.Durations, durationMs)

	switch outcome {
	case OutcomeSuccess:
		s.SuccessCount++
	case OutcomeConnectFailure:
		s.ConnectFailureCount++
	case OutcomeAbnormalClose:
		s.AbnormalCloseCount++
	case OutcomeTimeout:
		s.TimeoutCount++
	default:
		s.ErrorCount++
	}

	if s.MinDurationMs == -1 || durationMs < s.MinDurationMs {
		s.MinDurationMs = durationMs
	}
	if s.MaxDurationMs == -1 || durationMs > s.MaxDurationMs {
		s.MaxDurationMs = durationMs
	}
}

// FailureCount returns every iteration that did not succeed
func (s *Stats) FailureCount() int {
	return s.CompletedIterations - s.SuccessCount
}

// AvgDurationMs returns the average duration in milliseconds
func (s *Stats) AvgDurationMs() float64 {
	if s.CompletedIterations == 0 {
		return 0
	}
	return float64(s.TotalDurationMs) / float64(s.CompletedIterations)
}

// Min returns the minimum duration, or 0 if no results
func (s *Stats) Min() int64 {
	if s.MinDurationMs == -1 {
		return 0
	}
	return s.MinDurationMs
}

// Max returns the maximum duration, or 0 if no results
func (s *Stats) Max() int64 {
	if s.MaxDurationMs == -1 {
		return 0
	}
	return s.MaxDurationMs
}

// Percentile calculates the percentile value (p should be between 0 and 100)
func (s *Stats) Percentile(p float64) int64 {
	if len(s.Durations) == 0 {
		return 0
	}

	sorted := make([]int64, len(s.Durations))
	copy(sorted, s.Durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation between lower and upper
	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight)
}

// P50 returns the 50th percentile (median)
func (s *Stats) P50() int64 {
	return s.Percentile(50)
}

// P95 returns the 95th percentile
func (s *Stats) P95() int64 {
	return s.Percentile(95)
}

// P99 returns the 99th percentile
func (s *Stats) P99() int64 {
	return s.Percentile(99)
}

func (s *Stats) rate(n int) float64 {
	if s.CompletedIterations == 0 {
		return 0
	}
	return float64(n) / float64(s.CompletedIterations) * 100
}

// SuccessRate returns the success rate as a percentage
func (s *Stats) SuccessRate() float64 { return s.rate(s.SuccessCount) }

// ConnectFailureRate returns the connect failure rate as a percentage
func (s *Stats) ConnectFailureRate() float64 { return s.rate(s.ConnectFailureCount) }

// AbnormalCloseRate returns the abnormal close rate as a percentage
func (s *Stats) AbnormalCloseRate() float64 { return s.rate(s.AbnormalCloseCount) }

// TimeoutRate returns the response timeout rate as a percentage
func (s *Stats) TimeoutRate() float64 { return s.rate(s.TimeoutCount) }

// Progress returns the completion progress as a percentage
func (s *Stats) Progress() float64 {
	if s.TotalIterations == 0 {
		return 0
	}
	return float64(s.CompletedIterations) / float64(s.TotalIterations) * 100
}

// Copy returns a deep copy
func (s *Stats) Copy() *Stats {
	c := *s
	c.Durations = make([]int64, len(s.Durations))
	copy(c.Durations, s.Durations)
	return &c
}
