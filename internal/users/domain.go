package users

import (
	"time"

	"github.com/odyssey-erp/docflow/internal/documents"
)

// User represents a user account with its branch scope and role codes.
type User struct {
	ID        int64
	Email     string
	Name      string
	BranchID  int64
	IsActive  bool
	Roles     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor converts the account into the identity guards evaluate.
func (u User) Actor() documents.Actor {
	roles := make([]documents.Role, 0, len(u.Roles))
	for _, code := range u.Roles {
		roles = append(roles, documents.Role(code))
	}
	return documents.Actor{
		ID:       u.ID,
		BranchID: u.BranchID,
		Roles:    roles,
		Active:   u.IsActive,
	}
}
