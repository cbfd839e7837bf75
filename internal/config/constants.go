package config

import "time"

// Timeout constants
const (
	// HTTP timeouts
	DefaultHTTPTimeout       = 60 * time.Second
	GenerationRequestTimeout = 90 * time.Second
	WorkerShutdownTimeout    = 30 * time.Second

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute

	// Session timeouts
	SessionMaxAge = 7 * 24 * time.Hour // 7 days
)

// Generation pipeline defaults
const (
	DefaultGenerationWorkers        = 3
	DefaultGenerationQueueSize      = 64
	DefaultMaxConcurrentGenerations = 4
	DefaultAttemptMultiplier        = 3
	DefaultMinAttempts              = 10
	DefaultMaxConsecutiveFailures   = 5
	DefaultMinReplenishBatch        = 5
	DefaultJobRetention             = 1 * time.Hour
	DefaultCleanupInterval          = 10 * time.Minute
)

// Session configuration constants
const (
	// Session settings
	SessionPath     = "/"
	SessionHTTPOnly = true
	SessionSecure   = false // Set to true in production with HTTPS

	// Session name
	SessionName = "trivia-session"
)

// Security configuration constants
const (
	// Content Security Policy
	DefaultCSP = "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'; img-src 'self' data:;"
)
