package metrics

import "time"

// Recorder receives acquisition and persistence events.
type Recorder interface {
	// ReadSucceeded counts a successful channel read.
	ReadSucceeded(channel string)
	// ReadFailed counts a failed channel read; transport marks link failures.
	ReadFailed(channel string, transport bool)
	// Persisted counts records written by one throttle tick.
	Persisted(n int)
	// PersistFailed counts records that could not be written.
	PersistFailed(n int)
	// TickCompleted observes the duration of one acquisition tick.
	TickCompleted(d time.Duration)
	// ActiveChannels sets the size of the active set.
	ActiveChannels(n int)
	// Running reports whether acquisition is running.
	Running(running bool)
}
