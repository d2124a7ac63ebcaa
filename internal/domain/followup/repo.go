package followup

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, f *FollowUp) error
	GetByID(ctx context.Context, id uuid.UUID) (*FollowUp, error)
	// Update writes every mutable column, but only while the stored status
	// still equals expected; otherwise it returns a Conflict error.
	Update(ctx context.Context, f *FollowUp, expected Status) error
	AppendReschedule(ctx context.Context, id uuid.UUID, e RescheduleEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*FollowUp, int, error)
	Recent(ctx context.Context, limit int) ([]*FollowUp, error)
}
