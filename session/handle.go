package session

import (
	"time"

	"github.com/cppla/questboard/models"
)

// Handle is the authenticated identity threaded through the cache and the
// action layer. The zero Handle is a signed-out session.
type Handle struct {
	UserID    string      `json:"user_id"`
	Username  string      `json:"username"`
	Role      models.Role `json:"role"`
	Token     string      `json:"-"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Anonymous is the signed-out handle.
var Anonymous = Handle{}

// Authenticated reports whether h carries an identity.
func (h Handle) Authenticated() bool { return h.UserID != "" }

// IsAdmin reports whether h carries the admin role.
func (h Handle) IsAdmin() bool { return h.Authenticated() && h.Role == models.RoleAdmin }
