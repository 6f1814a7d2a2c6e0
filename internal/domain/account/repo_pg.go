package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/db"
)

const uniqueViolation = "23505"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// queryable abstracts pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const principalSelect = `
	SELECT a.id, a.username, a.email, a.password_hash, a.account_type,
	       a.active, a.locked, a.verified, a.login_count, a.failed_login_count,
	       a.last_login_at, a.created_at, a.updated_at,
	       COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
	FROM accounts a
	LEFT JOIN account_roles r ON r.account_id = a.id`

func (r *repoPG) Create(ctx context.Context, p *Principal) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		err := q.QueryRow(ctx, `
			INSERT INTO accounts (
				username, email, password_hash, account_type, active, locked, verified
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at`,
			p.Username, p.Email, p.PasswordHash, p.AccountType, p.Active, p.Locked, p.Verified,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return mapUniqueViolation(err)
		}

		for _, role := range p.Roles {
			if _, err := q.Exec(ctx,
				`INSERT INTO account_roles (account_id, role) VALUES ($1, $2)`,
				p.ID, role,
			); err != nil {
				return fmt.Errorf("insert role %s: %w", role, err)
			}
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Principal, error) {
	return r.scanOne(ctx, principalSelect+` WHERE a.id = $1 GROUP BY a.id`, id)
}

func (r *repoPG) GetByUsername(ctx context.Context, username string) (*Principal, error) {
	return r.scanOne(ctx, principalSelect+` WHERE LOWER(a.username) = LOWER($1) GROUP BY a.id`, username)
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	return r.scanOne(ctx, principalSelect+` WHERE LOWER(a.email) = LOWER($1) GROUP BY a.id`, email)
}

func (r *repoPG) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE LOWER(username) = LOWER($1))`, username,
	).Scan(&exists)
	return exists, err
}

func (r *repoPG) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE LOWER(email) = LOWER($1))`, email,
	).Scan(&exists)
	return exists, err
}

// RecordLoginSuccess and RecordLoginFailure are single UPDATE statements so
// that concurrent logins against one account never lose an increment.
func (r *repoPG) RecordLoginSuccess(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, `
		UPDATE accounts
		SET login_count = login_count + 1, failed_login_count = 0,
		    last_login_at = $2, updated_at = NOW()
		WHERE id = $1`, id, at)
}

func (r *repoPG) RecordLoginFailure(ctx context.Context, id int64) error {
	return r.execOne(ctx, `
		UPDATE accounts
		SET failed_login_count = failed_login_count + 1, updated_at = NOW()
		WHERE id = $1`, id)
}

// SetLocked clears the failed-attempt counter when unlocking.
func (r *repoPG) SetLocked(ctx context.Context, id int64, locked bool) error {
	return r.execOne(ctx, `
		UPDATE accounts
		SET locked = $2,
		    failed_login_count = CASE WHEN $2 THEN failed_login_count ELSE 0 END,
		    updated_at = NOW()
		WHERE id = $1`, id, locked)
}

func (r *repoPG) SetActive(ctx context.Context, id int64, active bool) error {
	return r.execOne(ctx, `UPDATE accounts SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

func (r *repoPG) execOne(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) scanOne(ctx context.Context, sql string, args ...interface{}) (*Principal, error) {
	var p Principal
	err := r.conn(ctx).QueryRow(ctx, sql, args...).Scan(
		&p.ID, &p.Username, &p.Email, &p.PasswordHash, &p.AccountType,
		&p.Active, &p.Locked, &p.Verified, &p.LoginCount, &p.FailedLoginCount,
		&p.LastLoginAt, &p.CreatedAt, &p.UpdatedAt,
		&p.Roles,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "accounts_username_key":
			return ErrDuplicateUsername
		case "accounts_email_key":
			return ErrDuplicateEmail
		}
	}
	return err
}
