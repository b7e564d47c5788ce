package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrTokenRevoked is returned when a token was invalidated by logout.
var ErrTokenRevoked = errors.New("token revoked")

// RevocationStore is the subset of the key-value store used to persist
// logout markers. The notification store satisfies it.
type RevocationStore interface {
	SetIndividual(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RevocationList records tokens that must no longer be trusted even though
// their signature and expiry are still valid.
type RevocationList struct {
	store RevocationStore
}

func NewRevocationList(store RevocationStore) *RevocationList {
	return &RevocationList{store: store}
}

func revocationKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:revoked:" + hex.EncodeToString(sum[:])
}

// Revoke marks the token as invalid until it would have expired anyway.
func (l *RevocationList) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := l.store.SetIndividual(ctx, revocationKey(token), []byte("1"), ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (l *RevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	ok, err := l.store.Exists(ctx, revocationKey(token))
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return ok, nil
}
