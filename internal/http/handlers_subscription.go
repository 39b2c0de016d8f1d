package http

import (
	"net/http"
	"time"

	"subwatch/internal/core"
	"subwatch/internal/services"
)

type subscriptionRequest struct {
	Name            string `json:"name"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Cycle           string `json:"cycle"`
	NextBillingDate string `json:"next_billing_date"`
	Category        string `json:"category"`
	Notes           string `json:"notes"`
}

type subscriptionResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Amount            string     `json:"amount"`
	AmountFormatted   string     `json:"amount_formatted"`
	Currency          string     `json:"currency"`
	Cycle             string     `json:"cycle"`
	CycleLabel        string     `json:"cycle_label"`
	NextBillingDate   string     `json:"next_billing_date"`
	Category          string     `json:"category"`
	CategoryLabel     string     `json:"category_label"`
	IsActive          bool       `json:"is_active"`
	Notes             string     `json:"notes,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	MonthlyEquivalent string     `json:"monthly_equivalent"`
	MonthlyFormatted  string     `json:"monthly_formatted"`
	DaysUntilBilling  int        `json:"days_until_billing"`
	Urgency           string     `json:"urgency"`
	DueTier           string     `json:"due_tier"`
}

func toSubscriptionResponse(sub core.Subscription, now time.Time) subscriptionResponse {
	monthly := core.MonthlyEquivalent(sub.Amount, sub.Cycle)
	days := core.DaysUntil(sub.NextBillingDate, now)
	return subscriptionResponse{
		ID:                sub.ID,
		Name:              sub.Name,
		Amount:            sub.Amount.String(),
		AmountFormatted:   core.FormatAmount(sub.Amount, sub.Currency),
		Currency:          sub.Currency,
		Cycle:             string(sub.Cycle),
		CycleLabel:        sub.Cycle.Label(),
		NextBillingDate:   sub.NextBillingDate.Format("2006-01-02"),
		Category:          string(sub.Category),
		CategoryLabel:     sub.Category.Label(),
		IsActive:          sub.IsActive,
		Notes:             sub.Notes,
		CancelledAt:       sub.CancelledAt,
		MonthlyEquivalent: monthly.String(),
		MonthlyFormatted:  core.FormatAmount(monthly, sub.Currency),
		DaysUntilBilling:  days,
		Urgency:           string(core.UrgencyLevel(days)),
		DueTier:           string(core.BillingDueTier(days)),
	}
}

func (req subscriptionRequest) toInput() (services.SubscriptionInput, error) {
	var date time.Time
	if req.NextBillingDate != "" {
		parsed, err := time.Parse("2006-01-02", req.NextBillingDate)
		if err != nil {
			return services.SubscriptionInput{}, core.ErrInvalidDate
		}
		date = parsed
	}
	return services.SubscriptionInput{
		Name:            req.Name,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Cycle:           req.Cycle,
		NextBillingDate: date,
		Category:        req.Category,
		Notes:           req.Notes,
	}, nil
}

// handleListSubscriptions returns the user's subscriptions; ?active=true
// filters out cancelled ones.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	var (
		subs []core.Subscription
		err  error
	)
	if r.URL.Query().Get("active") == "true" {
		subs, err = s.subscriptions.ListActive(r.Context(), userIDFrom(r))
	} else {
		subs, err = s.subscriptions.List(r.Context(), userIDFrom(r))
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	now := time.Now()
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subscriptions.Get(r.Context(), r.PathValue("id"), userIDFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, time.Now()))
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.requireWritable(w, r) {
		return
	}

	var req subscriptionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	userID := userIDFrom(r)
	sub, err := s.subscriptions.Create(r.Context(), userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.statsCache.Delete(userID)
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub, time.Now()))
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.requireWritable(w, r) {
		return
	}

	var req subscriptionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	userID := userIDFrom(r)
	sub, err := s.subscriptions.Update(r.Context(), r.PathValue("id"), userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.statsCache.Delete(userID)
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, time.Now()))
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.requireWritable(w, r) {
		return
	}

	userID := userIDFrom(r)
	if err := s.subscriptions.Delete(r.Context(), r.PathValue("id"), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.statsCache.Delete(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.requireWritable(w, r) {
		return
	}

	userID := userIDFrom(r)
	sub, err := s.subscriptions.Cancel(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.statsCache.Delete(userID)
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, time.Now()))
}

func (s *Server) handleReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.requireWritable(w, r) {
		return
	}

	userID := userIDFrom(r)
	sub, err := s.subscriptions.Reactivate(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	s.statsCache.Delete(userID)
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, time.Now()))
}

type paymentResponse struct {
	ID              string `json:"id"`
	Amount          string `json:"amount"`
	AmountFormatted string `json:"amount_formatted"`
	Currency        string `json:"currency"`
	PaidAt          string `json:"paid_at"`
}

// handleListPayments returns the recorded charge history for one of the
// user's subscriptions, newest first.
func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.subscriptions.Payments(r.Context(), r.PathValue("id"), userIDFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentResponse{
			ID:              p.ID,
			Amount:          p.Amount.String(),
			AmountFormatted: core.FormatAmount(p.Amount, p.Currency),
			Currency:        p.Currency,
			PaidAt:          p.PaidAt.Format("2006-01-02"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

// handleMetaOptions lists the selectable categories and billing cycles with
// their display labels. Needs no authentication.
func (s *Server) handleMetaOptions(w http.ResponseWriter, r *http.Request) {
	type option struct {
		Value string `json:"value"`
		Label string `json:"label"`
	}

	categories := make([]option, 0, len(core.Categories()))
	for _, c := range core.Categories() {
		categories = append(categories, option{Value: string(c), Label: c.Label()})
	}
	cycles := make([]option, 0, len(core.BillingCycles()))
	for _, c := range core.BillingCycles() {
		cycles = append(cycles, option{Value: string(c), Label: c.Label()})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"categories":     categories,
		"billing_cycles": cycles,
	})
}
