package services

import (
	"errors"
	"fmt"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/repository"
)

// Service-level errors. Handlers map these to HTTP status codes.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("not allowed")
	ErrInvalidToken   = errors.New("invalid token")
	ErrEmailTaken     = errors.New("email already registered")
	ErrUnknownFeature = errors.New("unknown feature")
	ErrNotPaired      = errors.New("user is not paired")

	ErrInvalidCode      = errors.New("invalid partner code")
	ErrCodeExpired      = fmt.Errorf("%w: code expired", ErrInvalidCode)
	ErrAlreadyConnected = fmt.Errorf("%w: code already redeemed", ErrInvalidCode)
	ErrAlreadyPaired    = errors.New("already paired")
	ErrSelfPairing      = errors.New("cannot pair with yourself")
	ErrCodeCollision    = errors.New("could not allocate a unique partner code")

	// ErrTransientIO means the store could not be reached; the caller may retry.
	ErrTransientIO = errors.New("temporarily unavailable, retry later")
)

// storeErr maps repository errors onto service errors, keeping the cause
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrTransient):
		return fmt.Errorf("%s: %w: %w", op, ErrTransientIO, err)
	case errors.Is(err, couple.ErrInvalidKey):
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
