package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Websocket connection timings
const (
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingInterval   = 25 * time.Second
	WSMaxMessageSize = 64 * 1024
)

// Typing auto-revert window bounds
const (
	MinTypingTimeout = 2 * time.Second
	MaxTypingTimeout = 3 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const MaintenanceJobInterval = 15 * time.Second

// Timeout for fire-and-forget notification sink calls
const NotifyTimeout = 2 * time.Second

// Per-IP request cap on unauthenticated entry points, per minute
const IPRateLimitPerMin = 120

// Comment heartbeat on SSE streams
const SSEHeartbeatInterval = 30 * time.Second
