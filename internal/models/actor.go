package models

// Roles supplied by the identity provider
const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Actor is the verified (userId, role) pair behind a call
type Actor struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// SystemActor is used for calls driven by trusted infrastructure (webhooks, jobs)
var SystemActor = Actor{UserID: "system", Role: RoleSystem}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// Privileged reports whether the actor may perform administrative work
func (a Actor) Privileged() bool { return a.IsAdmin() || a.IsSystem() }
