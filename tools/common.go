package tools

import (
	"time"
)

// UnixMilli converts a millisecond timestamp; zero stays the zero time.
func UnixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
