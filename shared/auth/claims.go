// Package auth validates operator JWTs for the control endpoints and tags
// every request with an X-Request-ID.
//
// Tokens carry claims:
//   - sub (or id): user ID
//   - email
//   - role: "viewer" | "user" | "operator" | "admin"
//   - exp: expiry (standard JWT claim)
package auth

import "context"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleUser     Role = "user"
	RoleViewer   Role = "viewer"
)

// CanSendCommand reports whether the role may drive actuators.
func (r Role) CanSendCommand() bool {
	return r == RoleAdmin || r == RoleOperator
}

type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
}

type ctxKey struct{}

func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}
