package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"subwatch/internal/core"
)

// ErrNotFound is returned when a row does not exist or belongs to another
// user; the two cases are deliberately indistinguishable to callers.
var ErrNotFound = errors.New("not found")

// User is an account holder. Password material never leaves this layer except
// as the bcrypt hash needed for verification.
type User struct {
	ID             string
	Email          string
	Name           string
	HashedPassword string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session is an opaque login token with an expiry.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Payment is a recorded charge, written when the billing processor advances a
// due subscription.
type Payment struct {
	ID             string
	SubscriptionID string
	Amount         decimal.Decimal
	Currency       string
	PaidAt         time.Time
	CreatedAt      time.Time
}

// Reminder is a queued upcoming-charge notification.
type Reminder struct {
	ID             string
	SubscriptionID string
	DueDate        time.Time
	DaysBefore     int
	SentAt         *time.Time
	CreatedAt      time.Time
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- users ---

func (r *SQLiteRepository) CreateUser(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, hashed_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.HashedPassword, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, email, name, hashed_password, created_at, updated_at
		FROM users WHERE email = ?`, email))
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, email, name, hashed_password, created_at, updated_at
		FROM users WHERE id = ?`, id))
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.HashedPassword, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) UpdateUserPassword(ctx context.Context, userID, hashedPassword string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET hashed_password = ?, updated_at = ? WHERE id = ?`,
		hashedPassword, now, userID)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) UpdateUserName(ctx context.Context, userID, name string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET name = ?, updated_at = ? WHERE id = ?`,
		name, now, userID)
	if err != nil {
		return fmt.Errorf("update user name: %w", err)
	}
	return requireRow(res)
}

// --- sessions ---

func (r *SQLiteRepository) CreateSession(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		s.Token, s.UserID, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, token string) (Session, error) {
	var s Session
	err := r.db.QueryRowContext(ctx, `
		SELECT token, user_id, expires_at, created_at
		FROM sessions WHERE token = ?`, token).
		Scan(&s.Token, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- subscriptions ---

const subscriptionColumns = `id, user_id, name, amount, currency, billing_cycle,
	next_billing_date, category, is_active, notes, cancelled_at, created_at, updated_at`

func (r *SQLiteRepository) CreateSubscription(ctx context.Context, s core.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Name, s.Amount.String(), s.Currency, string(s.Cycle),
		s.NextBillingDate, string(s.Category), s.IsActive, s.Notes,
		nullableTime(s.CancelledAt), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetSubscription is owner-scoped: asking for another user's row yields
// ErrNotFound.
func (r *SQLiteRepository) GetSubscription(ctx context.Context, id, userID string) (core.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	return scanSubscription(row)
}

func (r *SQLiteRepository) ListSubscriptions(ctx context.Context, userID string) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE user_id = ?
		ORDER BY next_billing_date ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func (r *SQLiteRepository) ListActiveSubscriptions(ctx context.Context, userID string) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE user_id = ? AND is_active = 1
		ORDER BY next_billing_date ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListDueSubscriptions returns active subscriptions across all users whose
// next billing date falls on or before asOf.
func (r *SQLiteRepository) ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE is_active = 1 AND next_billing_date <= ?
		ORDER BY next_billing_date ASC`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListUpcomingSubscriptions returns active subscriptions due in (from, until].
func (r *SQLiteRepository) ListUpcomingSubscriptions(ctx context.Context, from, until time.Time) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE is_active = 1 AND next_billing_date > ? AND next_billing_date <= ?
		ORDER BY next_billing_date ASC`, from, until)
	if err != nil {
		return nil, fmt.Errorf("list upcoming subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func (r *SQLiteRepository) UpdateSubscription(ctx context.Context, s core.Subscription) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET name = ?, amount = ?, currency = ?, billing_cycle = ?,
			next_billing_date = ?, category = ?, is_active = ?, notes = ?,
			cancelled_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		s.Name, s.Amount.String(), s.Currency, string(s.Cycle),
		s.NextBillingDate, string(s.Category), s.IsActive, s.Notes,
		nullableTime(s.CancelledAt), s.UpdatedAt, s.ID, s.UserID)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return requireRow(res)
}

// AdvanceBillingDate moves a subscription's next billing date forward without
// touching user-editable fields. Used by the billing processor.
func (r *SQLiteRepository) AdvanceBillingDate(ctx context.Context, id string, next, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET next_billing_date = ?, updated_at = ? WHERE id = ?`,
		next, now, id)
	if err != nil {
		return fmt.Errorf("advance billing date: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) DeleteSubscription(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return requireRow(res)
}

func scanSubscription(row *sql.Row) (core.Subscription, error) {
	var (
		s           core.Subscription
		amount      string
		cycle       string
		category    string
		cancelledAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &amount, &s.Currency, &cycle,
		&s.NextBillingDate, &category, &s.IsActive, &s.Notes,
		&cancelledAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Subscription{}, ErrNotFound
	}
	if err != nil {
		return core.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	return finishSubscription(s, amount, cycle, category, cancelledAt)
}

func collectSubscriptions(rows *sql.Rows) ([]core.Subscription, error) {
	var subs []core.Subscription
	for rows.Next() {
		var (
			s           core.Subscription
			amount      string
			cycle       string
			category    string
			cancelledAt sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &amount, &s.Currency, &cycle,
			&s.NextBillingDate, &category, &s.IsActive, &s.Notes,
			&cancelledAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub, err := finishSubscription(s, amount, cycle, category, cancelledAt)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func finishSubscription(s core.Subscription, amount, cycle, category string, cancelledAt sql.NullTime) (core.Subscription, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	s.Amount = dec
	s.Cycle = core.BillingCycle(cycle)
	s.Category = core.Category(category)
	if cancelledAt.Valid {
		t := cancelledAt.Time
		s.CancelledAt = &t
	}
	return s, nil
}

// --- payments ---

func (r *SQLiteRepository) CreatePayment(ctx context.Context, p Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, subscription_id, amount, currency, paid_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SubscriptionID, p.Amount.String(), p.Currency, p.PaidAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListPayments(ctx context.Context, subscriptionID string) ([]Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subscription_id, amount, currency, paid_at, created_at
		FROM payments WHERE subscription_id = ?
		ORDER BY paid_at DESC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var (
			p      Payment
			amount string
		)
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &amount, &p.Currency, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		dec, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse payment amount %q: %w", amount, err)
		}
		p.Amount = dec
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

// --- reminders ---

// CreateReminder queues a reminder. A duplicate for the same subscription and
// due date is skipped; the bool reports whether a row was actually inserted so
// callers publish only once per reminder.
func (r *SQLiteRepository) CreateReminder(ctx context.Context, rem Reminder) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reminders (id, subscription_id, due_date, days_before, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rem.ID, rem.SubscriptionID, rem.DueDate, rem.DaysBefore, rem.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListPendingReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subscription_id, due_date, days_before, sent_at, created_at
		FROM reminders WHERE sent_at IS NULL
		ORDER BY due_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending reminders: %w", err)
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var (
			rem    Reminder
			sentAt sql.NullTime
		)
		if err := rows.Scan(&rem.ID, &rem.SubscriptionID, &rem.DueDate, &rem.DaysBefore, &sentAt, &rem.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		if sentAt.Valid {
			t := sentAt.Time
			rem.SentAt = &t
		}
		reminders = append(reminders, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return reminders, nil
}

func (r *SQLiteRepository) MarkReminderSent(ctx context.Context, id string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders SET sent_at = ? WHERE id = ? AND sent_at IS NULL`, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return requireRow(res)
}

// --- helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
