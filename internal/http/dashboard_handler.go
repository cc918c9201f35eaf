package http

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
	"log/slog"

	"revivalmetrics/internal/config"
	"revivalmetrics/internal/events"
	"revivalmetrics/internal/pkg/async"
	"revivalmetrics/internal/pkg/referrers"
	"revivalmetrics/internal/rollups"
	"revivalmetrics/internal/sessions"
	"revivalmetrics/internal/timeframe"
)

// DashboardResponse is the JSON payload behind the admin dashboard.
// Series come from the daily rollups; today's counts are read live
// from the raw tables since today's rollup may lag behind.
type DashboardResponse struct {
	Visitors        []TimeSeriesPoint `json:"visitors"`
	Sessions        []TimeSeriesPoint `json:"sessions"`
	PageViews       []TimeSeriesPoint `json:"page_views"`
	TopReferrers    []MetricCount     `json:"top_referrers"`
	TopEvents       []MetricCount     `json:"top_events"`
	TotalVisitors   int64             `json:"total_visitors"`
	TotalSessions   int64             `json:"total_sessions"`
	TotalViews      int64             `json:"total_views"`
	ActiveSessions  int64             `json:"active_sessions"`
	ViewsToday      int64             `json:"views_today"`
	EventsToday     int64             `json:"events_today"`
	FormattedTotals map[string]string `json:"formatted_totals"`
	From            string            `json:"from"`
	To              string            `json:"to"`
}

type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type MetricCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

const topListLimit = 10

func fetchDashboardMetrics(db *gorm.DB, cfg *config.Config, logger *slog.Logger, window timeframe.Range) (*DashboardResponse, error) {
	now := time.Now().UTC()
	from := window.From
	to := window.LastDay()
	today := rollups.Day(now)
	activeSince := now.Add(-time.Duration(cfg.GetSessionTimeout()) * time.Second)

	tasks := []async.Task{
		{
			Name: "visitorSeries",
			Execute: func() (interface{}, error) {
				return rollups.VisitorSeries(db, from, to)
			},
		},
		{
			Name: "topReferrers",
			Execute: func() (interface{}, error) {
				return rollups.TopReferrers(db, from, to, topListLimit)
			},
		},
		{
			Name: "topEvents",
			Execute: func() (interface{}, error) {
				return rollups.TopEvents(db, from, to, topListLimit)
			},
		},
		{
			Name: "activeSessions",
			Execute: func() (interface{}, error) {
				return sessions.CountActive(db, activeSince)
			},
		},
		{
			Name: "viewsToday",
			Execute: func() (interface{}, error) {
				return events.CountPageviewsSince(db, today)
			},
		},
		{
			Name: "eventsToday",
			Execute: func() (interface{}, error) {
				return events.CountEventsSince(db, today)
			},
		},
	}

	pool := async.NewPool(4)
	results := pool.Execute(context.Background(), tasks)

	for name, result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("error fetching %s: %w", name, result.Err)
		}
	}

	series := results["visitorSeries"].Data.([]rollups.DailyVisitorStat)

	resp := &DashboardResponse{
		Visitors:       make([]TimeSeriesPoint, 0, len(series)),
		Sessions:       make([]TimeSeriesPoint, 0, len(series)),
		PageViews:      make([]TimeSeriesPoint, 0, len(series)),
		TopReferrers:   []MetricCount{},
		TopEvents:      []MetricCount{},
		ActiveSessions: results["activeSessions"].Data.(int64),
		ViewsToday:     results["viewsToday"].Data.(int64),
		EventsToday:    results["eventsToday"].Data.(int64),
		From:           from.Format("2006-01-02"),
		To:             window.LastDay().Format("2006-01-02"),
	}

	for _, stat := range series {
		date := stat.Day.Format("2006-01-02")
		resp.Visitors = append(resp.Visitors, TimeSeriesPoint{Date: date, Count: int64(stat.Visitors)})
		resp.Sessions = append(resp.Sessions, TimeSeriesPoint{Date: date, Count: int64(stat.Sessions)})
		resp.PageViews = append(resp.PageViews, TimeSeriesPoint{Date: date, Count: int64(stat.Pageviews)})
		resp.TotalVisitors += int64(stat.Visitors)
		resp.TotalSessions += int64(stat.Sessions)
		resp.TotalViews += int64(stat.Pageviews)
	}

	for _, ref := range results["topReferrers"].Data.([]rollups.DailyReferrerStat) {
		name := ref.Referrer
		if name == rollups.DirectReferrer {
			name = "Direct / Unknown"
		} else {
			name = referrers.FriendlyName(name)
		}
		resp.TopReferrers = append(resp.TopReferrers, MetricCount{Name: name, Count: int64(ref.Sessions)})
	}

	for _, ev := range results["topEvents"].Data.([]rollups.DailyEventStat) {
		resp.TopEvents = append(resp.TopEvents, MetricCount{Name: ev.Name, Count: int64(ev.Count)})
	}

	printer := message.NewPrinter(language.AmericanEnglish)
	resp.FormattedTotals = map[string]string{
		"visitors":  printer.Sprintf("%d", resp.TotalVisitors),
		"sessions":  printer.Sprintf("%d", resp.TotalSessions),
		"pageviews": printer.Sprintf("%d", resp.TotalViews),
	}

	return resp, nil
}

// DashboardAction serves the traffic overview at /admin/dashboard.
// The window is selected with ?period=24h|7d|30d|90d and defaults to
// the last 30 days.
func DashboardAction(ctx *cartridge.Context) error {
	db := ctx.DB()

	cfg := config.GetConfig()

	window, err := timeframe.ParsePeriod(ctx.Ctx.Query("period"), time.Now())
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid period, expected one of 24h, 7d, 30d, 90d",
		})
	}

	metrics, err := fetchDashboardMetrics(db, cfg, ctx.Logger, window)
	if err != nil {
		ctx.Logger.Error("Error fetching dashboard metrics", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error fetching metrics",
		})
	}

	return ctx.JSON(metrics)
}
