package auth

import (
	"context"
	"log"
)

// Verifier validates bearer tokens and consults the revocation list before
// trusting them. A nil revocation list disables the logout check.
type Verifier struct {
	jwt     *JWTService
	revoked *RevocationList
}

func NewVerifier(jwtService *JWTService, revoked *RevocationList) *Verifier {
	return &Verifier{jwt: jwtService, revoked: revoked}
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := v.jwt.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if v.revoked == nil {
		return claims, nil
	}
	revoked, err := v.revoked.IsRevoked(ctx, token)
	if err != nil {
		// Fail closed.
		log.Printf("auth: revocation check failed: %v", err)
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke invalidates a previously verified token.
func (v *Verifier) Revoke(ctx context.Context, token string, claims *Claims) error {
	if v.revoked == nil || claims.ExpiresAt == nil {
		return nil
	}
	return v.revoked.Revoke(ctx, token, claims.ExpiresAt.Time)
}
