package types

type RunMode string

const (
	// ModeLocal runs the API server and the outbox relay in the same process
	ModeLocal RunMode = "local"
	// ModeAPI is the mode for running just the API server
	ModeAPI RunMode = "api"
	// ModeRelay is the mode for running just the outbox relay
	ModeRelay RunMode = "relay"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)
