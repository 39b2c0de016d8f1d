// Package worker turns queued billing reminders into delivered notifications.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"subwatch/internal/amqp"
	"subwatch/internal/core"
	"subwatch/internal/storage"
)

// NotifyStore is the slice of the repository the notify worker needs.
type NotifyStore interface {
	GetSubscription(ctx context.Context, id, userID string) (core.Subscription, error)
	GetUserByID(ctx context.Context, id string) (storage.User, error)
	MarkReminderSent(ctx context.Context, id string, sentAt time.Time) error
}

// Notifier delivers a rendered reminder to the user. The default
// implementation just logs; a mail or push sender plugs in here.
type Notifier interface {
	Notify(ctx context.Context, email, subject, body string) error
}

// LogNotifier writes notifications to the structured log instead of sending
// them anywhere.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, email, subject, body string) error {
	slog.InfoContext(ctx, "Notification",
		"email", email,
		"subject", subject,
		"body", body)
	return nil
}

// NotifyWorker consumes reminder messages, renders them against the current
// subscription state and marks the reminder row sent.
type NotifyWorker struct {
	storage  NotifyStore
	notifier Notifier
	now      func() time.Time
}

func NewNotifyWorker(storage NotifyStore, notifier Notifier) *NotifyWorker {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &NotifyWorker{storage: storage, notifier: notifier, now: time.Now}
}

// HandleReminder processes a single reminder message from AMQP. Reminders for
// subscriptions that no longer exist, or were cancelled meanwhile, are marked
// sent without notifying.
func (w *NotifyWorker) HandleReminder(ctx context.Context, msg *amqp.ReminderMessage) error {
	slog.InfoContext(ctx, "Processing reminder",
		"reminder_id", msg.ReminderID,
		"subscription_id", msg.SubscriptionID)

	sub, err := w.storage.GetSubscription(ctx, msg.SubscriptionID, msg.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Subscription gone, dropping reminder",
			"reminder_id", msg.ReminderID,
			"subscription_id", msg.SubscriptionID)
		return w.markSent(ctx, msg.ReminderID)
	}
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}

	if !sub.IsActive {
		slog.InfoContext(ctx, "Subscription cancelled, dropping reminder",
			"reminder_id", msg.ReminderID,
			"subscription_id", sub.ID)
		return w.markSent(ctx, msg.ReminderID)
	}

	user, err := w.storage.GetUserByID(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	subject := fmt.Sprintf("%sの支払いが近づいています", sub.Name)
	body := fmt.Sprintf("%s: %s due %s (%d days)",
		sub.Name,
		core.FormatAmount(sub.Amount, sub.Currency),
		msg.DueDate.Format("2006-01-02"),
		msg.DaysUntil)

	if err := w.notifier.Notify(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}

	return w.markSent(ctx, msg.ReminderID)
}

func (w *NotifyWorker) markSent(ctx context.Context, reminderID string) error {
	err := w.storage.MarkReminderSent(ctx, reminderID, w.now())
	if errors.Is(err, storage.ErrNotFound) {
		// Already marked by an earlier delivery attempt.
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

var _ NotifyStore = (*storage.SQLiteRepository)(nil)
