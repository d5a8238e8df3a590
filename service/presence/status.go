package presence

import (
	"strings"
	"sync"

	"PPresence/tools/errs"
)

// Status is a user's self-reported state.
type Status string

const (
	Available Status = "Available"
	Busy      Status = "Busy"
	Focused   Status = "Focused"
)

var (
	statusMu sync.RWMutex
	statuses = map[string]Status{
		"available": Available,
		"busy":      Busy,
		"focused":   Focused,
	}
)

// RegisterStatus adds a value to the accepted set.
func RegisterStatus(s Status) {
	if s == "" {
		return
	}
	statusMu.Lock()
	statuses[strings.ToLower(string(s))] = s
	statusMu.Unlock()
}

// ParseStatus matches case-insensitively and returns the canonical spelling.
func ParseStatus(v string) (Status, error) {
	statusMu.RLock()
	s, ok := statuses[strings.ToLower(strings.TrimSpace(v))]
	statusMu.RUnlock()
	if !ok {
		return "", errs.ErrArgs.WrapMsg("invalid status", "state", v)
	}
	return s, nil
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}
