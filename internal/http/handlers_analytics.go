package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"subwatch/internal/core"
)

const (
	defaultTrendMonths = 6
	maxTrendMonths     = 24
)

type categoryBreakdownEntry struct {
	Category  string `json:"category"`
	Label     string `json:"label"`
	Monthly   string `json:"monthly"`
	Formatted string `json:"formatted"`
}

type summaryResponse struct {
	ActiveCount       int                      `json:"active_count"`
	TotalCount        int                      `json:"total_count"`
	MonthlyTotal      string                   `json:"monthly_total"`
	MonthlyFormatted  string                   `json:"monthly_formatted"`
	YearlyTotal       string                   `json:"yearly_total"`
	YearlyFormatted   string                   `json:"yearly_formatted"`
	CategoryBreakdown []categoryBreakdownEntry `json:"category_breakdown"`
	UpcomingPayments  []subscriptionResponse   `json:"upcoming_payments"`
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	stats, found := s.statsCache.Get(userID)
	if found {
		slog.DebugContext(r.Context(), "Stats cache hit", "user_id", userID)
	} else {
		computed, err := s.subscriptions.Stats(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		stats = computed
		s.statsCache.Set(userID, stats)
	}

	now := time.Now()
	resp := summaryResponse{
		ActiveCount:       stats.ActiveCount,
		TotalCount:        stats.TotalCount,
		MonthlyTotal:      stats.MonthlyTotal.String(),
		MonthlyFormatted:  core.FormatAmount(stats.MonthlyTotal, "JPY"),
		YearlyTotal:       stats.YearlyTotal.String(),
		YearlyFormatted:   core.FormatAmount(stats.YearlyTotal, "JPY"),
		CategoryBreakdown: make([]categoryBreakdownEntry, 0, len(stats.CategoryBreakdown)),
		UpcomingPayments:  make([]subscriptionResponse, 0, len(stats.UpcomingPayments)),
	}
	for _, entry := range stats.CategoryBreakdown {
		resp.CategoryBreakdown = append(resp.CategoryBreakdown, categoryBreakdownEntry{
			Category:  string(entry.Category),
			Label:     entry.Category.Label(),
			Monthly:   entry.Monthly.String(),
			Formatted: core.FormatAmount(entry.Monthly, "JPY"),
		})
	}
	for _, sub := range stats.UpcomingPayments {
		resp.UpcomingPayments = append(resp.UpcomingPayments, toSubscriptionResponse(sub, now))
	}

	writeJSON(w, http.StatusOK, resp)
}

type trendBucket struct {
	Month       string `json:"month"`
	Total       string `json:"total"`
	Formatted   string `json:"formatted"`
	ActiveCount int    `json:"active_count"`
}

func (s *Server) handleAnalyticsTrend(w http.ResponseWriter, r *http.Request) {
	months := defaultTrendMonths
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTrendMonths {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("months must be between 1 and %d", maxTrendMonths))
			return
		}
		months = n
	}

	buckets, err := s.subscriptions.Trend(r.Context(), userIDFrom(r), months)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]trendBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, trendBucket{
			Month:       fmt.Sprintf("%04d-%02d", b.Year, int(b.Month)),
			Total:       b.Total.String(),
			Formatted:   core.FormatAmount(b.Total, "JPY"),
			ActiveCount: b.Count,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"months": out})
}
