package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Validator verifies JWTs against a key source.
type Validator struct {
	kf      jwt.Keyfunc
	methods []string
}

// NewJWKSValidator fetches JWKS from one or more comma-separated URLs and
// keeps them refreshed for the life of ctx.
func NewJWKSValidator(ctx context.Context, jwksURLs string) (*Validator, error) {
	urls := splitTrimmed(jwksURLs)
	if len(urls) == 0 {
		return nil, fmt.Errorf("auth: no JWKS URLs provided")
	}

	k, err := keyfunc.NewDefaultCtx(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("auth: fetch JWKS: %w", err)
	}
	return &Validator{kf: k.Keyfunc, methods: []string{"RS256", "ES256"}}, nil
}

// NewHMACValidator verifies HS256 tokens signed with a shared secret, the
// scheme used by the account service's login endpoint.
func NewHMACValidator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("auth: empty HMAC secret")
	}
	key := []byte(secret)
	return &Validator{
		kf:      func(*jwt.Token) (interface{}, error) { return key, nil },
		methods: []string{"HS256"},
	}, nil
}

// Validate parses and verifies a raw JWT string and returns the extracted Claims.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, v.kf, jwt.WithValidMethods(v.methods))
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: token invalid")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("auth: unexpected claims type")
	}

	claims := &Claims{
		Subject: stringClaim(mapClaims, "sub"),
		Email:   stringClaim(mapClaims, "email"),
		Role:    Role(stringClaim(mapClaims, "role")),
	}
	if claims.Subject == "" {
		claims.Subject = stringClaim(mapClaims, "id")
	}
	return claims, nil
}

func stringClaim(m jwt.MapClaims, key string) string {
	v, _ := m[key].(string)
	return v
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
