package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotificationNotFound = errors.New("notification not found")

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// ListByUser returns the user's notifications, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error)
}
