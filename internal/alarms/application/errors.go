package application

import "errors"

var (
	// ErrRetryable marks an alarm store failure; the already-decided actions are
	// kept and re-sent when the event is retried.
	ErrRetryable = errors.New("alarms: retryable dispatch failure")
	// ErrEngineStopped is returned once the engine no longer accepts events.
	ErrEngineStopped = errors.New("alarms: engine stopped")
	// ErrQueueFull is returned when a shard inbox is full.
	ErrQueueFull = errors.New("alarms: queue full")
)
