// Package models defines data structures used throughout the trivia backend.
package models

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// QuestionSource records where a question came from
type QuestionSource string

const (
	// SourceImport marks questions created through the bulk import path
	SourceImport QuestionSource = "import"
	// SourceGenerated marks questions produced by a generation job
	SourceGenerated QuestionSource = "generated"
)

// Question represents a canonical, reusable trivia question. Questions are
// never mutated after insert; identity for deduplication is the content hash.
type Question struct {
	ID          int            `json:"id" yaml:"id"`
	Prompt      string         `json:"prompt" yaml:"prompt"`
	Options     []string       `json:"options" yaml:"options"`
	Answer      string         `json:"answer" yaml:"answer"`
	Topic       string         `json:"topic" yaml:"topic"`
	MinAge      sql.NullInt32  `json:"min_age" yaml:"min_age"`
	MaxAge      sql.NullInt32  `json:"max_age" yaml:"max_age"`
	ContentHash string         `json:"content_hash" yaml:"content_hash"`
	Source      QuestionSource `json:"source" yaml:"source"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
}

// HasAgeBounds reports whether the question restricts its audience by age.
// Questions without bounds are eligible for every reader.
func (q *Question) HasAgeBounds() bool {
	return q.MinAge.Valid && q.MaxAge.Valid
}

// MarshalJSON customizes JSON marshaling for Question to render null age bounds properly
func (q Question) MarshalJSON() (result0 []byte, err error) {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	return json.Marshal(&struct {
		ID        int            `json:"id"`
		Prompt    string         `json:"prompt"`
		Options   []string       `json:"options"`
		Answer    string         `json:"answer"`
		Topic     string         `json:"topic"`
		MinAge    *int32         `json:"min_age"`
		MaxAge    *int32         `json:"max_age"`
		Source    QuestionSource `json:"source"`
		CreatedAt time.Time      `json:"created_at"`
	}{
		ID:        q.ID,
		Prompt:    q.Prompt,
		Options:   options,
		Answer:    q.Answer,
		Topic:     q.Topic,
		MinAge:    nullInt32ToPointer(q.MinAge),
		MaxAge:    nullInt32ToPointer(q.MaxAge),
		Source:    q.Source,
		CreatedAt: q.CreatedAt,
	})
}

func nullInt32ToPointer(ni sql.NullInt32) *int32 {
	if ni.Valid {
		return &ni.Int32
	}
	return nil
}

// QuestionAssignment records that a question has been allocated to a user.
// The (user_id, question_id) pair is unique at the database level; that
// constraint, not application logic, is what makes concurrent fetches safe.
type QuestionAssignment struct {
	ID         int       `json:"id"`
	UserID     int       `json:"user_id"`
	QuestionID int       `json:"question_id"`
	AssignedAt time.Time `json:"assigned_at"`
	Seen       bool      `json:"seen"`
}

// QuestionFilters narrows question selection for reads and supply counts
type QuestionFilters struct {
	Age   *int   `json:"age,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// ImportResult summarizes a bulk import: how many candidates were inserted,
// how many were skipped as duplicates or invalid, and the batch size.
type ImportResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// JobStatus represents the lifecycle state of a generation job
type JobStatus string

const (
	// JobPending is the initial state after enqueue
	JobPending JobStatus = "pending"
	// JobRunning means a worker has claimed the job
	JobRunning JobStatus = "running"
	// JobCompleted is terminal; partial generation still completes
	JobCompleted JobStatus = "completed"
	// JobFailed is terminal; reserved for a persistently failing generation capability
	JobFailed JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TriggerKind records what caused a job to be enqueued
type TriggerKind string

const (
	// TriggerManual is an explicit user request
	TriggerManual TriggerKind = "manual"
	// TriggerAuto is a replenishment-policy decision
	TriggerAuto TriggerKind = "auto"
)

// GenerationJobSpec is the request side of a job: what to generate and for whom
type GenerationJobSpec struct {
	OwnerUserID int         `json:"owner_user_id"`
	TargetCount int         `json:"target_count"`
	MinAge      *int        `json:"min_age,omitempty"`
	MaxAge      *int        `json:"max_age,omitempty"`
	Topic       string      `json:"topic,omitempty"`
	Trigger     TriggerKind `json:"trigger"`
}

// GenerationJob is a unit of asynchronous replenishment work. Progress fields
// are single-writer: only the worker that claimed the job mutates them.
type GenerationJob struct {
	ID             string      `json:"job_id"`
	OwnerUserID    int         `json:"owner_user_id"`
	TargetCount    int         `json:"target_count"`
	MinAge         *int        `json:"min_age,omitempty"`
	MaxAge         *int        `json:"max_age,omitempty"`
	Topic          string      `json:"topic,omitempty"`
	Status         JobStatus   `json:"status"`
	GeneratedCount int         `json:"generated_count"`
	DuplicateCount int         `json:"duplicate_count"`
	Trigger        TriggerKind `json:"trigger"`
	LastMessage    string      `json:"last_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// MatchesFilters reports whether the job covers the given read filters, used
// to suppress redundant auto-triggers for the same user and demand.
func (j *GenerationJob) MatchesFilters(f QuestionFilters) bool {
	if f.Topic != "" && !strings.EqualFold(j.Topic, f.Topic) {
		return false
	}
	if f.Age != nil {
		if j.MinAge != nil && *f.Age < *j.MinAge {
			return false
		}
		if j.MaxAge != nil && *f.Age > *j.MaxAge {
			return false
		}
	}
	return true
}

// JobView is the externally visible shape of a job, returned by status
// queries and pushed through the notification hub.
type JobView struct {
	JobID          string      `json:"job_id"`
	Status         JobStatus   `json:"status"`
	TargetCount    int         `json:"target_count"`
	GeneratedCount int         `json:"generated_count"`
	DuplicateCount int         `json:"duplicate_count"`
	Topic          string      `json:"topic,omitempty"`
	Trigger        TriggerKind `json:"trigger"`
	LastMessage    string      `json:"last_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// View projects the job into its external representation
func (j *GenerationJob) View() JobView {
	return JobView{
		JobID:          j.ID,
		Status:         j.Status,
		TargetCount:    j.TargetCount,
		GeneratedCount: j.GeneratedCount,
		DuplicateCount: j.DuplicateCount,
		Topic:          j.Topic,
		Trigger:        j.Trigger,
		LastMessage:    j.LastMessage,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
	}
}

// JobEvent is the message fanned out to a user's subscribers when a job changes
type JobEvent struct {
	Type string  `json:"type"`
	Job  JobView `json:"job"`
}

// Job event types pushed through the notification hub
const (
	// JobEventProgress is sent after each accepted question
	JobEventProgress = "job.progress"
	// JobEventStatus is sent on every status transition
	JobEventStatus = "job.status"
)

// MetricsSnapshot is the point-in-time view of the process-wide counters
type MetricsSnapshot struct {
	JobsEnqueued       int64   `json:"jobs_enqueued"`
	JobsCompleted      int64   `json:"jobs_completed"`
	JobsFailed         int64   `json:"jobs_failed"`
	QuestionsGenerated int64   `json:"questions_generated"`
	DuplicatesSkipped  int64   `json:"duplicates_skipped"`
	AutoTriggers       int64   `json:"auto_triggers"`
	ManualTriggers     int64   `json:"manual_triggers"`
	SuccessRate        float64 `json:"success_rate"`
	QuestionsPerMinute float64 `json:"questions_per_minute"`
	UptimeSeconds      int64   `json:"uptime_seconds"`

	// Store-backed gauges, filled in at request time
	TotalQuestions int64 `json:"total_questions_in_db"`
	ActiveJobs     int64 `json:"active_jobs"`
}
