// Package clockservice provides the server's notion of time: the value
// readers synchronize against over /time, and the wall-clock reference the
// ingest verifier uses to bound signature drift.
package clockservice

import "time"

// Clock abstracts wall-clock time so tests can inject a fixed instant.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now() }

// EpochSeconds returns now as whole seconds since the Unix epoch, the value
// served by GET /time.
func EpochSeconds(c Clock) int64 {
	return c.Now().Unix()
}

// Drift returns the absolute difference, in seconds, between the server's
// current time and a reader-supplied timestamp.
func Drift(c Clock, readerTimestamp int64) int64 {
	now := c.Now().Unix()
	d := now - readerTimestamp
	if d < 0 {
		d = -d
	}
	return d
}
