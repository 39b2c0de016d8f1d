package services

import (
	"context"
	"sync"
	"time"

	"subwatch/internal/amqp"
	"subwatch/internal/core"
	"subwatch/internal/storage"
)

// fakeStore is an in-memory stand-in for the SQLite repository.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]storage.User // by ID
	sessions      map[string]storage.Session
	subscriptions map[string]core.Subscription
	payments      []storage.Payment
	reminders     map[string]storage.Reminder // keyed by subscription+due date
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]storage.User),
		sessions:      make(map[string]storage.Session),
		subscriptions: make(map[string]core.Subscription),
		reminders:     make(map[string]storage.Reminder),
	}
}

func (f *fakeStore) CreateUser(_ context.Context, u storage.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hashedPassword string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.HashedPassword = hashedPassword
	u.UpdatedAt = now
	f.users[userID] = u
	return nil
}

func (f *fakeStore) UpdateUserName(_ context.Context, userID, name string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Name = name
	u.UpdatedAt = now
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, s storage.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.Token] = s
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, token string) (storage.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[token]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) DeleteSession(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

func (f *fakeStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for token, s := range f.sessions {
		if !s.ExpiresAt.After(now) {
			delete(f.sessions, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateSubscription(_ context.Context, s core.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[s.ID] = s
	return nil
}

func (f *fakeStore) GetSubscription(_ context.Context, id, userID string) (core.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[id]
	if !ok || s.UserID != userID {
		return core.Subscription{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListSubscriptions(_ context.Context, userID string) ([]core.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []core.Subscription
	for _, s := range f.subscriptions {
		if s.UserID == userID {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

func (f *fakeStore) ListActiveSubscriptions(_ context.Context, userID string) ([]core.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []core.Subscription
	for _, s := range f.subscriptions {
		if s.UserID == userID && s.IsActive {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

func (f *fakeStore) UpdateSubscription(_ context.Context, s core.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.subscriptions[s.ID]
	if !ok || existing.UserID != s.UserID {
		return storage.ErrNotFound
	}
	f.subscriptions[s.ID] = s
	return nil
}

func (f *fakeStore) DeleteSubscription(_ context.Context, id, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[id]
	if !ok || s.UserID != userID {
		return storage.ErrNotFound
	}
	delete(f.subscriptions, id)
	return nil
}

func (f *fakeStore) ListDueSubscriptions(_ context.Context, asOf time.Time) ([]core.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []core.Subscription
	for _, s := range f.subscriptions {
		if s.IsActive && !s.NextBillingDate.After(asOf) {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

func (f *fakeStore) ListUpcomingSubscriptions(_ context.Context, from, until time.Time) ([]core.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []core.Subscription
	for _, s := range f.subscriptions {
		if s.IsActive && s.NextBillingDate.After(from) && !s.NextBillingDate.After(until) {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

func (f *fakeStore) AdvanceBillingDate(_ context.Context, id string, next, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.NextBillingDate = next
	s.UpdatedAt = now
	f.subscriptions[id] = s
	return nil
}

func (f *fakeStore) CreatePayment(_ context.Context, p storage.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, p)
	return nil
}

func (f *fakeStore) ListPayments(_ context.Context, subscriptionID string) ([]storage.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Payment
	for _, p := range f.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateReminder(_ context.Context, r storage.Reminder) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.SubscriptionID + "|" + r.DueDate.Format("2006-01-02")
	if _, exists := f.reminders[key]; exists {
		return false, nil // INSERT OR IGNORE
	}
	f.reminders[key] = r
	return true, nil
}

// fakePublisher records published reminders instead of talking to RabbitMQ.
type fakePublisher struct {
	mu        sync.Mutex
	published []*amqp.ReminderMessage
}

func (f *fakePublisher) PublishReminder(_ context.Context, msg *amqp.ReminderMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}
