package types

// PubSubType defines the type of pubsub implementation
type PubSubType string

const (
	// MemoryPubSub uses in-memory implementation
	MemoryPubSub PubSubType = "memory"

	// KafkaPubSub uses Kafka implementation
	KafkaPubSub PubSubType = "kafka"
)

// SchedulerType selects the sink used for future subscription notifications
type SchedulerType string

const (
	// SchedulerPostgres writes notifications to the queue table inside the caller's transaction
	SchedulerPostgres SchedulerType = "postgres"
	// SchedulerTemporal starts a delayed temporal workflow per notification
	SchedulerTemporal SchedulerType = "temporal"
)

// BusType selects the sink used for bus notifications
type BusType string

const (
	// BusPostgres writes bus events to the outbox table; the relay forwards them later
	BusPostgres BusType = "postgres"
	// BusDirect publishes bus events straight to the configured pubsub
	BusDirect BusType = "direct"
)

// ProcessingState is the delivery state of a queued notification or bus event
type ProcessingState string

const (
	ProcessingStateAvailable  ProcessingState = "AVAILABLE"
	ProcessingStateProcessed  ProcessingState = "PROCESSED"
	ProcessingStateFailed     ProcessingState = "FAILED"
	ProcessingStateInProgress ProcessingState = "IN_PROCESSING"
)
