package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrLinkCodeTaken = errors.New("link code already in use")
	ErrAlreadyLinked = errors.New("users are already linked")
)

type UserRepository interface {
	// Create stores u, returning ErrLinkCodeTaken when its link code collides.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByLinkCode(ctx context.Context, code string) (*User, error)
	// ListByIDs returns the users that exist among ids, oldest first.
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error)
	// Link records the link in both directions atomically. It returns
	// ErrAlreadyLinked if a already lists b.
	Link(ctx context.Context, a, b uuid.UUID) error
}
