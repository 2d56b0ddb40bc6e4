package badge

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"openbackpack.org/internal/store"
)

// ErrInvalidToken reports a missing, spent or unknown download token.
var ErrInvalidToken = errors.New("badge: invalid download token")

// CreateDownloadToken mints a single-use backpack download token for the
// learner and records it on the user document.
func (s *Service) CreateDownloadToken(ctx context.Context, userID string) (string, error) {
	var user User
	if err := s.store.Get(ctx, userPath(userID), &user); err != nil {
		return "", notFoundOr("user", userID, err)
	}

	token := uuid.NewString()
	record := DownloadToken{CreatedAt: s.now().UTC(), Valid: true}
	if err := s.store.Set(ctx, store.Join(userPath(userID), "downloadTokens", token), record); err != nil {
		return "", err
	}
	return token, nil
}

// RedeemDownloadToken validates an emailed token and invalidates it.
// Tokens are revoked on first use; a second redemption fails.
func (s *Service) RedeemDownloadToken(ctx context.Context, userID, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	path := store.Join(userPath(userID), "downloadTokens", token)
	var record DownloadToken
	if err := s.store.Get(ctx, path, &record); err != nil {
		if isStoreNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}
	if !record.Valid {
		return ErrInvalidToken
	}

	record.Valid = false
	return s.store.Set(ctx, path, record)
}
