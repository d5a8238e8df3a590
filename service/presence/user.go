package presence

import (
	"strings"
	"time"
)

// User is one online identity as seen by this client.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Image    string    `json:"image,omitempty"`
	Status   Status    `json:"status,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

// DisplayName falls back to the local part of an e-mail style id, then to
// a short id-derived label.
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	if at := strings.IndexByte(u.ID, '@'); at > 0 {
		return u.ID[:at]
	}
	id := u.ID
	if len(id) > 6 {
		id = id[:6]
	}
	return "User " + id
}
