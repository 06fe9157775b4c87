package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// RoleDebug grants access to the simulator tooling endpoints.
const RoleDebug = "debug"

// DebugClaims are the claims of the HS256 tokens accepted by the simulator tooling.
type DebugClaims struct {
	Operator string   `json:"operator"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole checks if the token carries role
func (c *DebugClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
