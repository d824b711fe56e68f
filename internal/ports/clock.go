package ports

import "time"

// Clock supplies the wall-clock time used for window checks. Timeouts are
// pure comparisons against it; there are no internal timers.
type Clock interface {
	Now() time.Time
}
