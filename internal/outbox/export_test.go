package outbox

import "time"

// SetInitialBackoff shortens publish retries in tests
func (r *Relay) SetInitialBackoff(d time.Duration) {
	r.initialBackoff = d
}
