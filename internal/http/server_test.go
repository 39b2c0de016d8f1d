package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"subwatch/internal/core"
	"subwatch/internal/services"
	"subwatch/internal/storage"
)

// memStore is an in-memory stand-in for the SQLite repository, enough for the
// handlers under test.
type memStore struct {
	mu            sync.Mutex
	users         map[string]storage.User
	sessions      map[string]storage.Session
	subscriptions map[string]core.Subscription
	payments      []storage.Payment
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]storage.User),
		sessions:      make(map[string]storage.Session),
		subscriptions: make(map[string]core.Subscription),
	}
}

func (m *memStore) CreateUser(_ context.Context, u storage.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, hashedPassword string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.HashedPassword = hashedPassword
	u.UpdatedAt = now
	m.users[userID] = u
	return nil
}

func (m *memStore) UpdateUserName(_ context.Context, userID, name string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Name = name
	u.UpdatedAt = now
	m.users[userID] = u
	return nil
}

func (m *memStore) CreateSession(_ context.Context, s storage.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = s
	return nil
}

func (m *memStore) GetSession(_ context.Context, token string) (storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *memStore) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *memStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) CreateSubscription(_ context.Context, s core.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.ID] = s
	return nil
}

func (m *memStore) GetSubscription(_ context.Context, id, userID string) (core.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok || s.UserID != userID {
		return core.Subscription{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *memStore) ListSubscriptions(_ context.Context, userID string) ([]core.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []core.Subscription
	for _, s := range m.subscriptions {
		if s.UserID == userID {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

func (m *memStore) ListActiveSubscriptions(_ context.Context, userID string) ([]core.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []core.Subscription
	for _, s := range m.subscriptions {
		if s.UserID == userID && s.IsActive {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

func (m *memStore) UpdateSubscription(_ context.Context, s core.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.subscriptions[s.ID]
	if !ok || existing.UserID != s.UserID {
		return storage.ErrNotFound
	}
	m.subscriptions[s.ID] = s
	return nil
}

func (m *memStore) DeleteSubscription(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok || s.UserID != userID {
		return storage.ErrNotFound
	}
	delete(m.subscriptions, id)
	return nil
}

func (m *memStore) ListPayments(_ context.Context, subscriptionID string) ([]storage.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Payment
	for _, p := range m.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestServer(readOnly bool) (*Server, *memStore) {
	store := newMemStore()
	return newTestServerWith(store, readOnly), store
}

func newTestServerWith(store *memStore, readOnly bool) *Server {
	auth := services.NewAuthService(store, time.Hour)
	subs := services.NewSubscriptionService(store)
	return NewServer(":0", auth, subs, readOnly)
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// registerAndLogin runs the real register and login handlers and returns a
// session token.
func registerAndLogin(t *testing.T, s *Server, email string) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "name": "Tester", "password": "longenough",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "longenough",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var session struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &session)
	return session.Token
}

func subscriptionBody() map[string]string {
	return map[string]string{
		"name":              "Netflix",
		"amount":            "1490",
		"currency":          "JPY",
		"cycle":             "MONTHLY",
		"next_billing_date": time.Now().AddDate(0, 0, 10).Format("2006-01-02"),
		"category":          "VIDEO",
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())

	rec := doJSON(t, s, http.MethodGet, "/api/subscriptions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions", "bogus", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())
	token := registerAndLogin(t, s, "flow@example.com")

	rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", token, subscriptionBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created subscriptionResponse
	decodeBody(t, rec, &created)
	if created.AmountFormatted != "¥1,490" {
		t.Errorf("AmountFormatted = %q, want ¥1,490", created.AmountFormatted)
	}
	if created.CycleLabel != "月" {
		t.Errorf("CycleLabel = %q, want 月", created.CycleLabel)
	}
	if created.DueTier != "yellow" {
		t.Errorf("DueTier = %q for a charge 10 days out, want yellow", created.DueTier)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions/"+created.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	body := subscriptionBody()
	body["amount"] = "1980"
	rec = doJSON(t, s, http.MethodPut, "/api/subscriptions/"+created.ID, token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated subscriptionResponse
	decodeBody(t, rec, &updated)
	if updated.Amount != "1980" {
		t.Errorf("updated Amount = %q, want 1980", updated.Amount)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/subscriptions/"+created.ID+"/cancel", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	var cancelled subscriptionResponse
	decodeBody(t, rec, &cancelled)
	if cancelled.IsActive {
		t.Error("cancelled subscription still active")
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/subscriptions/"+created.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions/"+created.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestSubscriptionValidationErrors(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())
	token := registerAndLogin(t, s, "invalid@example.com")

	body := subscriptionBody()
	body["cycle"] = "FORTNIGHTLY"
	rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", token, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad cycle status = %d, want 422", rec.Code)
	}

	body = subscriptionBody()
	body["next_billing_date"] = "not-a-date"
	rec = doJSON(t, s, http.MethodPost, "/api/subscriptions", token, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad date status = %d, want 422", rec.Code)
	}
}

func TestSubscriptionOwnerIsolation(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())
	ownerToken := registerAndLogin(t, s, "owner@example.com")
	otherToken := registerAndLogin(t, s, "other@example.com")

	rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", ownerToken, subscriptionBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created subscriptionResponse
	decodeBody(t, rec, &created)

	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions/"+created.ID, otherToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user get status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, s, http.MethodDelete, "/api/subscriptions/"+created.ID, otherToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user delete status = %d, want 404", rec.Code)
	}
}

func TestUserProfile(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())
	token := registerAndLogin(t, s, "profile@example.com")

	rec := doJSON(t, s, http.MethodGet, "/api/user/profile", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get profile status = %d, body %s", rec.Code, rec.Body.String())
	}
	var profile userResponse
	decodeBody(t, rec, &profile)
	if profile.Email != "profile@example.com" || profile.Name != "Tester" {
		t.Errorf("profile = %+v, want Tester/profile@example.com", profile)
	}

	rec = doJSON(t, s, http.MethodPut, "/api/user/profile", token, map[string]string{"name": "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update profile status = %d, body %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &profile)
	if profile.Name != "Renamed" {
		t.Errorf("Name after update = %q, want Renamed", profile.Name)
	}

	// The rename sticks.
	rec = doJSON(t, s, http.MethodGet, "/api/user/profile", token, nil)
	decodeBody(t, rec, &profile)
	if profile.Name != "Renamed" {
		t.Errorf("Name after reload = %q, want Renamed", profile.Name)
	}

	rec = doJSON(t, s, http.MethodPut, "/api/user/profile", token, map[string]string{"name": "   "})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("blank name status = %d, want 422", rec.Code)
	}
}

func TestSubscriptionPayments(t *testing.T) {
	s, store := newTestServer(false)
	defer s.Shutdown(context.Background())
	token := registerAndLogin(t, s, "history@example.com")
	otherToken := registerAndLogin(t, s, "snoop@example.com")

	rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", token, subscriptionBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created subscriptionResponse
	decodeBody(t, rec, &created)

	store.payments = []storage.Payment{
		{ID: "p1", SubscriptionID: created.ID, Amount: decimal.NewFromInt(1490), Currency: "JPY",
			PaidAt: time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)},
		{ID: "p2", SubscriptionID: created.ID, Amount: decimal.NewFromInt(1490), Currency: "JPY",
			PaidAt: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)},
	}

	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions/"+created.ID+"/payments", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("payments status = %d, body %s", rec.Code, rec.Body.String())
	}
	var history struct {
		Payments []paymentResponse `json:"payments"`
	}
	decodeBody(t, rec, &history)
	if len(history.Payments) != 2 {
		t.Fatalf("payments = %d, want 2", len(history.Payments))
	}
	if history.Payments[0].AmountFormatted != "¥1,490" {
		t.Errorf("AmountFormatted = %q, want ¥1,490", history.Payments[0].AmountFormatted)
	}

	// Another user's token gets a 404, not an empty list.
	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions/"+created.ID+"/payments", otherToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user payments status = %d, want 404", rec.Code)
	}
}

func TestListSubscriptionsActiveFilter(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())
	token := registerAndLogin(t, s, "filter@example.com")

	rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", token, subscriptionBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var keep subscriptionResponse
	decodeBody(t, rec, &keep)

	body := subscriptionBody()
	body["name"] = "Spotify"
	rec = doJSON(t, s, http.MethodPost, "/api/subscriptions", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var dropped subscriptionResponse
	decodeBody(t, rec, &dropped)
	if rec := doJSON(t, s, http.MethodPost, "/api/subscriptions/"+dropped.ID+"/cancel", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}

	var list struct {
		Subscriptions []subscriptionResponse `json:"subscriptions"`
	}
	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions", token, nil)
	decodeBody(t, rec, &list)
	if len(list.Subscriptions) != 2 {
		t.Errorf("unfiltered list = %d, want 2", len(list.Subscriptions))
	}

	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions?active=true", token, nil)
	decodeBody(t, rec, &list)
	if len(list.Subscriptions) != 1 || list.Subscriptions[0].ID != keep.ID {
		t.Errorf("active list = %+v, want just %s", list.Subscriptions, keep.ID)
	}
}

func TestReadOnlyMode(t *testing.T) {
	// The account exists before the deployment is flipped to read-only, so
	// register through a writable server sharing the same store.
	store := newMemStore()
	writable := newTestServerWith(store, false)
	defer writable.Shutdown(context.Background())
	token := registerAndLogin(t, writable, "readonly@example.com")

	s := newTestServerWith(store, true)
	defer s.Shutdown(context.Background())

	rec := doJSON(t, s, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "new@example.com", "name": "New", "password": "longenough",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("register in read-only status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/subscriptions", token, subscriptionBody())
	if rec.Code != http.StatusForbidden {
		t.Errorf("create in read-only status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPut, "/api/user/profile", token, map[string]string{"name": "Blocked"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("profile update in read-only status = %d, want 403", rec.Code)
	}

	// Logins and reads still work.
	rec = doJSON(t, s, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "readonly@example.com", "password": "longenough",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("login in read-only status = %d, want 200", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/subscriptions", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("list in read-only status = %d, want 200", rec.Code)
	}
}

func TestAnalyticsSummary(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())
	token := registerAndLogin(t, s, "stats@example.com")

	if rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", token, subscriptionBody()); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	body := subscriptionBody()
	body["name"] = "Spotify"
	body["amount"] = "980"
	body["category"] = "MUSIC"
	if rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", token, body); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/analytics/summary", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d, body %s", rec.Code, rec.Body.String())
	}
	var summary summaryResponse
	decodeBody(t, rec, &summary)
	if summary.ActiveCount != 2 || summary.TotalCount != 2 {
		t.Errorf("counts = %d/%d, want 2/2", summary.ActiveCount, summary.TotalCount)
	}
	if summary.MonthlyTotal != "2470" {
		t.Errorf("MonthlyTotal = %q, want 2470", summary.MonthlyTotal)
	}
	if summary.MonthlyFormatted != "¥2,470" {
		t.Errorf("MonthlyFormatted = %q, want ¥2,470", summary.MonthlyFormatted)
	}
	if len(summary.CategoryBreakdown) != 2 {
		t.Errorf("breakdown entries = %d, want 2", len(summary.CategoryBreakdown))
	}
	if len(summary.UpcomingPayments) != 2 {
		t.Errorf("upcoming = %d, want 2 (both within 30 days)", len(summary.UpcomingPayments))
	}

	// A write invalidates the cached summary.
	body["name"] = "iCloud"
	body["amount"] = "130"
	if rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", token, body); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/analytics/summary", token, nil)
	decodeBody(t, rec, &summary)
	if summary.TotalCount != 3 {
		t.Errorf("TotalCount after write = %d, want 3", summary.TotalCount)
	}
}

func TestAnalyticsTrend(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())
	token := registerAndLogin(t, s, "trend@example.com")

	if rec := doJSON(t, s, http.MethodPost, "/api/subscriptions", token, subscriptionBody()); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/analytics/trend", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trend status = %d", rec.Code)
	}
	var trend struct {
		Months []trendBucket `json:"months"`
	}
	decodeBody(t, rec, &trend)
	if len(trend.Months) != defaultTrendMonths {
		t.Errorf("default window = %d buckets, want %d", len(trend.Months), defaultTrendMonths)
	}
	last := trend.Months[len(trend.Months)-1]
	if last.ActiveCount != 1 {
		t.Errorf("current month count = %d, want 1", last.ActiveCount)
	}

	for _, q := range []string{"0", "25", "abc"} {
		rec = doJSON(t, s, http.MethodGet, "/api/analytics/trend?months="+q, token, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("months=%s status = %d, want 400", q, rec.Code)
		}
	}

	rec = doJSON(t, s, http.MethodGet, "/api/analytics/trend?months=3", token, nil)
	decodeBody(t, rec, &trend)
	if len(trend.Months) != 3 {
		t.Errorf("months=3 window = %d buckets, want 3", len(trend.Months))
	}
}

func TestMetaOptions(t *testing.T) {
	s, _ := newTestServer(false)
	defer s.Shutdown(context.Background())

	rec := doJSON(t, s, http.MethodGet, "/api/meta/options", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("options status = %d", rec.Code)
	}
	var opts struct {
		Categories []struct {
			Value string `json:"value"`
			Label string `json:"label"`
		} `json:"categories"`
		BillingCycles []struct {
			Value string `json:"value"`
			Label string `json:"label"`
		} `json:"billing_cycles"`
	}
	decodeBody(t, rec, &opts)
	if len(opts.Categories) != 16 {
		t.Errorf("categories = %d, want 16", len(opts.Categories))
	}
	if len(opts.BillingCycles) != 8 {
		t.Errorf("billing cycles = %d, want 8", len(opts.BillingCycles))
	}
}
