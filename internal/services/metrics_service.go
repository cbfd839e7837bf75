package services

import (
	"sync/atomic"
	"time"

	"triviaapp/internal/models"
)

// MetricsService aggregates process-wide generation counters. Counters are
// atomics; Snapshot derives the rates, so readers never block writers.
type MetricsService struct {
	startedAt time.Time

	jobsEnqueued       atomic.Int64
	jobsCompleted      atomic.Int64
	jobsFailed         atomic.Int64
	questionsGenerated atomic.Int64
	duplicatesSkipped  atomic.Int64
	autoTriggers       atomic.Int64
	manualTriggers     atomic.Int64
}

// NewMetricsService creates a metrics service anchored at the current time
func NewMetricsService() *MetricsService {
	return &MetricsService{startedAt: time.Now().UTC()}
}

// RecordJobEnqueued counts an enqueued job by trigger kind
func (m *MetricsService) RecordJobEnqueued(trigger models.TriggerKind) {
	m.jobsEnqueued.Add(1)
	switch trigger {
	case models.TriggerAuto:
		m.autoTriggers.Add(1)
	case models.TriggerManual:
		m.manualTriggers.Add(1)
	}
}

// RecordJobCompleted counts a completed job
func (m *MetricsService) RecordJobCompleted() {
	m.jobsCompleted.Add(1)
}

// RecordJobFailed counts a failed job
func (m *MetricsService) RecordJobFailed() {
	m.jobsFailed.Add(1)
}

// RecordQuestionsGenerated counts accepted questions
func (m *MetricsService) RecordQuestionsGenerated(n int) {
	if n > 0 {
		m.questionsGenerated.Add(int64(n))
	}
}

// RecordDuplicatesSkipped counts questions rejected as duplicates
func (m *MetricsService) RecordDuplicatesSkipped(n int) {
	if n > 0 {
		m.duplicatesSkipped.Add(int64(n))
	}
}

// Snapshot returns the current counter values with derived rates
func (m *MetricsService) Snapshot() models.MetricsSnapshot {
	completed := m.jobsCompleted.Load()
	failed := m.jobsFailed.Load()
	generated := m.questionsGenerated.Load()
	uptime := time.Since(m.startedAt)

	var successRate float64
	if finished := completed + failed; finished > 0 {
		successRate = float64(completed) / float64(finished)
	}

	var perMinute float64
	if minutes := uptime.Minutes(); minutes > 0 {
		perMinute = float64(generated) / minutes
	}

	return models.MetricsSnapshot{
		JobsEnqueued:       m.jobsEnqueued.Load(),
		JobsCompleted:      completed,
		JobsFailed:         failed,
		QuestionsGenerated: generated,
		DuplicatesSkipped:  m.duplicatesSkipped.Load(),
		AutoTriggers:       m.autoTriggers.Load(),
		ManualTriggers:     m.manualTriggers.Load(),
		SuccessRate:        successRate,
		QuestionsPerMinute: perMinute,
		UptimeSeconds:      int64(uptime.Seconds()),
	}
}
