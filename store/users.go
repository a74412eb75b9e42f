package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Subscription statuses tracked on the user row. The column is free text to
// accommodate provider-reported statuses, but these are the values the
// reconciliation handler writes.
const (
	StatusNone     = "none"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

// ErrNotFound is returned when a lookup or a keyed update matches no user.
var ErrNotFound = errors.New("store: user not found")

// User is a row of the users table: identity plus the current subscription
// snapshot maintained by the reconciliation handler.
type User struct {
	ID                 string
	Name               string
	Email              string
	IsSubscriber       bool
	StripeCustomerID   *string
	PriceID            *string
	SubscriptionStatus *string
	CurrentPeriodEnd   *time.Time
	CreatedAt          time.Time
}

// UserStore provides row-level access to the users table.
type UserStore struct {
	db *DB
}

// NewUserStore creates a user store bound to the given database handle.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, name, email, is_subscriber, stripe_customer_id, price_id, subscription_status, current_period_end, created_at`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		custID    sql.NullString
		priceID   sql.NullString
		status    sql.NullString
		periodEnd sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.IsSubscriber, &custID, &priceID, &status, &periodEnd, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if custID.Valid {
		u.StripeCustomerID = &custID.String
	}
	if priceID.Valid {
		u.PriceID = &priceID.String
	}
	if status.Valid {
		u.SubscriptionStatus = &status.String
	}
	if periodEnd.Valid {
		t := periodEnd.Time
		u.CurrentPeriodEnd = &t
	}
	return &u, nil
}

// GetByID returns the user with the given id.
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// GetByStripeCustomerID returns the user linked to the given payment
// provider customer.
func (s *UserStore) GetByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID)
	return scanUser(row)
}

// Insert creates a user row. Only identity fields are written; subscription
// fields keep their defaults until reconciliation updates them.
func (s *UserStore) Insert(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)`,
		u.ID, u.Email, u.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user %s: %w", u.ID, err)
	}
	return nil
}

// ApplySubscription records a completed checkout on the user row: links the
// provider customer and price, grants subscriber status and stores the paid
// period end. Overwrites unconditionally, so redelivered events are
// harmless.
func (s *UserStore) ApplySubscription(ctx context.Context, userID, customerID, priceID string, periodEnd *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET stripe_customer_id = $1,
		     price_id = $2,
		     is_subscriber = TRUE,
		     subscription_status = $3,
		     current_period_end = $4
		 WHERE id = $5`,
		customerID, priceID, StatusActive, nullTime(periodEnd), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply subscription for user %s: %w", userID, err)
	}
	return oneRow(res)
}

// SetStatus overwrites the subscription status and period end for the user
// linked to the given provider customer.
func (s *UserStore) SetStatus(ctx context.Context, customerID, status string, periodEnd *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET subscription_status = $1, current_period_end = $2 WHERE stripe_customer_id = $3`,
		status, nullTime(periodEnd), customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set status for customer %s: %w", customerID, err)
	}
	return oneRow(res)
}

// MarkCanceled revokes subscriber status for the user linked to the given
// provider customer. The customer link is retained for history.
func (s *UserStore) MarkCanceled(ctx context.Context, customerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_subscriber = FALSE, subscription_status = $1 WHERE stripe_customer_id = $2`,
		StatusCanceled, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription for customer %s: %w", customerID, err)
	}
	return oneRow(res)
}

// RenewSubscription restores subscriber status and refreshes the period end
// after a recurring payment.
func (s *UserStore) RenewSubscription(ctx context.Context, customerID string, periodEnd *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET is_subscriber = TRUE, subscription_status = $1, current_period_end = $2
		 WHERE stripe_customer_id = $3`,
		StatusActive, nullTime(periodEnd), customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to renew subscription for customer %s: %w", customerID, err)
	}
	return oneRow(res)
}

// MarkPastDue flags a failed recurring payment. Subscriber status is left
// untouched; the provider cancels the subscription after its own retries and
// a deleted-subscription event follows.
func (s *UserStore) MarkPastDue(ctx context.Context, customerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET subscription_status = $1 WHERE stripe_customer_id = $2`,
		StatusPastDue, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark customer %s past due: %w", customerID, err)
	}
	return oneRow(res)
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
