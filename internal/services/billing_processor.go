package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"subwatch/internal/amqp"
	"subwatch/internal/core"
	"subwatch/internal/storage"
)

// BillingStore is the slice of the repository the billing processor needs.
type BillingStore interface {
	ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]core.Subscription, error)
	ListUpcomingSubscriptions(ctx context.Context, from, until time.Time) ([]core.Subscription, error)
	AdvanceBillingDate(ctx context.Context, id string, next, now time.Time) error
	CreatePayment(ctx context.Context, p storage.Payment) error
	CreateReminder(ctx context.Context, r storage.Reminder) (bool, error)
}

// ReminderPublisher publishes reminder messages for the notification worker.
// *amqp.Client satisfies it.
type ReminderPublisher interface {
	PublishReminder(ctx context.Context, msg *amqp.ReminderMessage) error
}

// BillingProcessor advances overdue billing dates, records the implied
// payments and queues upcoming-charge reminders. It is driven on a schedule
// by the reminder worker.
type BillingProcessor struct {
	store     BillingStore
	publisher ReminderPublisher
	leadDays  int
	now       func() time.Time
}

func NewBillingProcessor(store BillingStore, publisher ReminderPublisher, leadDays int) *BillingProcessor {
	return &BillingProcessor{
		store:     store,
		publisher: publisher,
		leadDays:  leadDays,
		now:       time.Now,
	}
}

// ProcessDue walks every active subscription whose billing date has passed,
// records a payment for the charge and rolls the date forward one cycle.
// Dates far in the past roll forward repeatedly until they land in the
// future, one payment per skipped cycle.
func (p *BillingProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := p.store.ListDueSubscriptions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due subscriptions: %w", err)
	}

	slog.InfoContext(ctx, "Processing due subscriptions",
		"due", len(due),
		"as_of", now.Format("2006-01-02"))

	processed := 0
	for _, sub := range due {
		n, err := p.advance(ctx, sub, now)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to advance subscription",
				"subscription_id", sub.ID,
				"error", err)
			continue
		}
		processed += n
	}

	slog.InfoContext(ctx, "Billing run complete", "payments_recorded", processed)
	return processed, nil
}

func (p *BillingProcessor) advance(ctx context.Context, sub core.Subscription, now time.Time) (int, error) {
	payments := 0
	next := sub.NextBillingDate

	for !next.After(now) {
		payment := storage.Payment{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			Amount:         sub.Amount,
			Currency:       sub.Currency,
			PaidAt:         next,
			CreatedAt:      p.now(),
		}
		if err := p.store.CreatePayment(ctx, payment); err != nil {
			return payments, fmt.Errorf("record payment: %w", err)
		}

		advanced := core.NextOccurrence(next, sub.Cycle)
		if !advanced.After(next) {
			// A cycle that does not move the date forward would loop here.
			return payments, fmt.Errorf("cycle %s did not advance date %s", sub.Cycle, next.Format("2006-01-02"))
		}
		next = advanced
		payments++
	}

	if err := p.store.AdvanceBillingDate(ctx, sub.ID, next, p.now()); err != nil {
		return payments, fmt.Errorf("advance billing date: %w", err)
	}

	slog.InfoContext(ctx, "Advanced subscription",
		"subscription_id", sub.ID,
		"payments", payments,
		"next_billing_date", next.Format("2006-01-02"))

	return payments, nil
}

// EnqueueReminders queues a reminder for every active subscription due within
// the lead window. The unique (subscription, due date) constraint keeps
// repeated runs from queueing duplicates, and only a newly inserted row is
// published, so each charge notifies at most once. A publisher failure is
// tolerated because the row itself survives for the next run.
func (p *BillingProcessor) EnqueueReminders(ctx context.Context, now time.Time) (int, error) {
	until := now.AddDate(0, 0, p.leadDays)
	upcoming, err := p.store.ListUpcomingSubscriptions(ctx, now, until)
	if err != nil {
		return 0, fmt.Errorf("list upcoming subscriptions: %w", err)
	}

	queued := 0
	for _, sub := range upcoming {
		reminder := storage.Reminder{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			DueDate:        sub.NextBillingDate,
			DaysBefore:     core.DaysUntil(sub.NextBillingDate, now),
			CreatedAt:      p.now(),
		}
		inserted, err := p.store.CreateReminder(ctx, reminder)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to queue reminder",
				"subscription_id", sub.ID,
				"error", err)
			continue
		}
		if !inserted {
			// Already queued on an earlier run.
			continue
		}

		if p.publisher != nil {
			msg := amqp.NewReminderMessage(reminder.ID, sub.ID, sub.UserID, sub.NextBillingDate, reminder.DaysBefore)
			if err := p.publisher.PublishReminder(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to publish reminder",
					"reminder_id", reminder.ID,
					"error", err)
			}
		}
		queued++
	}

	slog.InfoContext(ctx, "Reminder run complete", "queued", queued, "lead_days", p.leadDays)
	return queued, nil
}

var _ BillingStore = (*storage.SQLiteRepository)(nil)
