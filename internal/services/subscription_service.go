// Package services orchestrates subscription, auth and billing operations
// across SQLite and AMQP.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"subwatch/internal/core"
	"subwatch/internal/storage"
)

// SubscriptionStore is the slice of the repository the subscription service
// needs. *storage.SQLiteRepository satisfies it.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s core.Subscription) error
	GetSubscription(ctx context.Context, id, userID string) (core.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]core.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, userID string) ([]core.Subscription, error)
	UpdateSubscription(ctx context.Context, s core.Subscription) error
	DeleteSubscription(ctx context.Context, id, userID string) error
	ListPayments(ctx context.Context, subscriptionID string) ([]storage.Payment, error)
}

// SubscriptionService owns the subscription lifecycle. All reads and writes
// are scoped to the requesting user.
type SubscriptionService struct {
	store SubscriptionStore
	now   func() time.Time
}

func NewSubscriptionService(store SubscriptionStore) *SubscriptionService {
	return &SubscriptionService{store: store, now: time.Now}
}

// SubscriptionInput carries the user-editable fields of a subscription.
type SubscriptionInput struct {
	Name            string
	Amount          string
	Currency        string
	Cycle           string
	NextBillingDate time.Time
	Category        string
	Notes           string
}

func (s *SubscriptionService) Create(ctx context.Context, userID string, in SubscriptionInput) (core.Subscription, error) {
	sub, err := s.buildSubscription(userID, in)
	if err != nil {
		return core.Subscription{}, err
	}

	now := s.now()
	sub.ID = uuid.NewString()
	sub.IsActive = true
	sub.CreatedAt = now
	sub.UpdatedAt = now

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return core.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	slog.InfoContext(ctx, "Created subscription",
		"subscription_id", sub.ID,
		"user_id", userID,
		"cycle", sub.Cycle)

	return sub, nil
}

func (s *SubscriptionService) Get(ctx context.Context, id, userID string) (core.Subscription, error) {
	return s.store.GetSubscription(ctx, id, userID)
}

func (s *SubscriptionService) List(ctx context.Context, userID string) ([]core.Subscription, error) {
	return s.store.ListSubscriptions(ctx, userID)
}

// ListActive returns only subscriptions that have not been cancelled.
func (s *SubscriptionService) ListActive(ctx context.Context, userID string) ([]core.Subscription, error) {
	return s.store.ListActiveSubscriptions(ctx, userID)
}

// Payments returns the recorded charge history for one subscription, newest
// first. The owner check runs before the history is read.
func (s *SubscriptionService) Payments(ctx context.Context, id, userID string) ([]storage.Payment, error) {
	if _, err := s.store.GetSubscription(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, id)
}

// Update replaces the user-editable fields of an existing subscription.
// Identity, activity and timestamps are preserved.
func (s *SubscriptionService) Update(ctx context.Context, id, userID string, in SubscriptionInput) (core.Subscription, error) {
	existing, err := s.store.GetSubscription(ctx, id, userID)
	if err != nil {
		return core.Subscription{}, err
	}

	sub, err := s.buildSubscription(userID, in)
	if err != nil {
		return core.Subscription{}, err
	}

	sub.ID = existing.ID
	sub.IsActive = existing.IsActive
	sub.CancelledAt = existing.CancelledAt
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = s.now()

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return core.Subscription{}, fmt.Errorf("update subscription: %w", err)
	}

	slog.InfoContext(ctx, "Updated subscription", "subscription_id", id, "user_id", userID)
	return sub, nil
}

// Cancel retires a subscription without deleting its history. Cancelling an
// already cancelled subscription is a no-op.
func (s *SubscriptionService) Cancel(ctx context.Context, id, userID string) (core.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id, userID)
	if err != nil {
		return core.Subscription{}, err
	}

	if !sub.IsActive {
		return sub, nil
	}

	now := s.now()
	sub.IsActive = false
	sub.CancelledAt = &now
	sub.UpdatedAt = now

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return core.Subscription{}, fmt.Errorf("cancel subscription: %w", err)
	}

	slog.InfoContext(ctx, "Cancelled subscription", "subscription_id", id, "user_id", userID)
	return sub, nil
}

// Reactivate turns a cancelled subscription back on and clears its
// cancellation timestamp.
func (s *SubscriptionService) Reactivate(ctx context.Context, id, userID string) (core.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id, userID)
	if err != nil {
		return core.Subscription{}, err
	}

	if sub.IsActive {
		return sub, nil
	}

	sub.IsActive = true
	sub.CancelledAt = nil
	sub.UpdatedAt = s.now()

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return core.Subscription{}, fmt.Errorf("reactivate subscription: %w", err)
	}

	slog.InfoContext(ctx, "Reactivated subscription", "subscription_id", id, "user_id", userID)
	return sub, nil
}

func (s *SubscriptionService) Delete(ctx context.Context, id, userID string) error {
	if err := s.store.DeleteSubscription(ctx, id, userID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Deleted subscription", "subscription_id", id, "user_id", userID)
	return nil
}

// Stats computes the analytics summary over every subscription the user has.
func (s *SubscriptionService) Stats(ctx context.Context, userID string) (core.Stats, error) {
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return core.Stats{}, err
	}
	return core.ComputeStats(subs, s.now()), nil
}

// Trend computes the trailing monthly buckets of spend and subscription count.
func (s *SubscriptionService) Trend(ctx context.Context, userID string, months int) ([]core.MonthBucket, error) {
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return core.MonthlySpendSeries(subs, months, s.now()), nil
}

func (s *SubscriptionService) buildSubscription(userID string, in SubscriptionInput) (core.Subscription, error) {
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Subscription{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "JPY"
	}

	sub := core.Subscription{
		UserID:          userID,
		Name:            strings.TrimSpace(in.Name),
		Amount:          amount,
		Currency:        currency,
		Cycle:           core.BillingCycle(in.Cycle),
		NextBillingDate: in.NextBillingDate,
		Category:        core.Category(in.Category),
		Notes:           in.Notes,
	}

	if err := sub.Validate(); err != nil {
		return core.Subscription{}, err
	}
	return sub, nil
}

var _ SubscriptionStore = (*storage.SQLiteRepository)(nil)
