package account

import (
	"context"
	"time"
)

// Repository persists principals. Counter updates must be atomic per account.
type Repository interface {
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id int64) (*Principal, error)
	GetByUsername(ctx context.Context, username string) (*Principal, error)
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	RecordLoginSuccess(ctx context.Context, id int64, at time.Time) error
	RecordLoginFailure(ctx context.Context, id int64) error
	SetLocked(ctx context.Context, id int64, locked bool) error
	SetActive(ctx context.Context, id int64, active bool) error
}
