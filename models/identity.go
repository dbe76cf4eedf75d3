package models

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleBidder Role = "bidder"
)

// Identity is what a validated session resolves to. Password secrets live
// in the registry, never here.
type Identity struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
