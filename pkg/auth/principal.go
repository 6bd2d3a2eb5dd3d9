package auth

import "github.com/example/smartcart/pkg/models"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   int64       `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == models.RoleAdmin
}

// CanAccess reports whether the principal may act on resources owned by
// userID: owners always, admins for everyone.
func (p *Principal) CanAccess(userID int64) bool {
	return p != nil && (p.UserID == userID || p.Role == models.RoleAdmin)
}
