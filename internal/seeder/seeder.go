// Package seeder fills a development database with plausible traffic
// so the dashboard has something to show. It writes the analytics rows
// directly with historical timestamps, then rebuilds the daily rollups
// for every seeded day.
package seeder

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"revivalmetrics/internal/events"
	"revivalmetrics/internal/rollups"
	"revivalmetrics/internal/sessions"
	"revivalmetrics/internal/visitors"
)

type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger

	// Visitors to create; each gets 1-4 sessions spread over Days.
	Visitors int
	Days     int
}

func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, visitorCount, days int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if visitorCount <= 0 {
		visitorCount = 200
	}
	if days <= 0 {
		days = 30
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
		Visitors:  visitorCount,
		Days:      days,
	}
}

var journeys = [][]string{
	{"/"},
	{"/", "/about"},
	{"/", "/blog", "/blog/launch-post"},
	{"/", "/features", "/pricing"},
	{"/", "/features", "/pricing", "/signup"},
	{"/pricing", "/signup"},
	{"/blog/launch-post", "/", "/pricing"},
	{"/", "/docs", "/docs/getting-started"},
	{"/login", "/dashboard"},
}

var referrerPool = []string{
	"", "", "", // direct traffic dominates
	"google.com",
	"google.com",
	"news.ycombinator.com",
	"t.co",
	"reddit.com",
	"duckduckgo.com",
}

var devicePool = []struct {
	category string
	browser  string
	os       string
}{
	{"desktop", "Chrome", "macOS"},
	{"desktop", "Firefox", "Windows"},
	{"desktop", "Safari", "macOS"},
	{"mobile", "Mobile Safari", "iOS"},
	{"mobile", "Chrome", "Android"},
}

var countryPool = []string{"US", "US", "DE", "GB", "FR", "BR", "JP", "ES"}

var eventNames = []string{
	"register_click",
	"newsletter_signup",
	"pricing_viewed",
	"demo_requested",
}

// Seed writes the demo dataset and recomputes rollups for every day it
// touched. It is additive; run it against a fresh database.
func (s *Seeder) Seed(ctx context.Context) error {
	start := time.Now()
	db := s.DBManager.GetConnection()
	s.Logger.Info("Seeding demo traffic",
		slog.Int("visitors", s.Visitors),
		slog.Int("days", s.Days))

	now := time.Now().UTC()
	seededDays := make(map[time.Time]bool)

	for i := 0; i < s.Visitors; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.seedVisitor(db, now, seededDays); err != nil {
			return fmt.Errorf("failed to seed visitor %d: %w", i, err)
		}
	}

	s.Logger.Info("Rebuilding rollups for seeded days", slog.Int("days", len(seededDays)))
	for day := range seededDays {
		if err := rollups.Recompute(db, s.Logger, day); err != nil {
			return fmt.Errorf("failed to recompute rollups for %s: %w", day.Format("2006-01-02"), err)
		}
	}

	s.Logger.Info("Seeding completed", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) seedVisitor(db *gorm.DB, now time.Time, seededDays map[time.Time]bool) error {
	visitor := &visitors.Visitor{AnonID: uuid.NewString()}
	device := devicePool[rand.IntN(len(devicePool))]
	country := countryPool[rand.IntN(len(countryPool))]

	sessionCount := 1 + rand.IntN(4)

	return sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
		if err := tx.Create(visitor).Error; err != nil {
			return err
		}

		for n := 0; n < sessionCount; n++ {
			daysAgo := rand.IntN(s.Days)
			startedAt := now.AddDate(0, 0, -daysAgo).
				Add(-time.Duration(rand.IntN(12)) * time.Hour)
			seededDays[rollups.Day(startedAt)] = true

			journey := journeys[rand.IntN(len(journeys))]
			endedAt := startedAt.Add(time.Duration(len(journey)) * 2 * time.Minute)

			session := &sessions.Session{
				SessionID:      uuid.NewString(),
				VisitorID:      visitor.ID,
				StartedAt:      startedAt,
				EndedAt:        &endedAt,
				LandingPage:    "https://demo.example.com" + journey[0],
				LandingPath:    journey[0],
				Referrer:       referrerPool[rand.IntN(len(referrerPool))],
				DeviceCategory: device.category,
				BrowserName:    device.browser,
				OSName:         device.os,
				Country:        country,
			}
			if err := tx.Create(session).Error; err != nil {
				return err
			}

			for step, path := range journey {
				pv := &events.Pageview{
					SessionID:  session.SessionID,
					VisitorID:  visitor.ID,
					Path:       path,
					URL:        "https://demo.example.com" + path,
					Referrer:   session.Referrer,
					OccurredAt: startedAt.Add(time.Duration(step) * 2 * time.Minute),
				}
				if err := tx.Create(pv).Error; err != nil {
					return err
				}
			}

			// Roughly a third of sessions convert on something.
			if rand.IntN(3) == 0 {
				ev := &events.Event{
					SessionID:  session.SessionID,
					VisitorID:  visitor.ID,
					Name:       eventNames[rand.IntN(len(eventNames))],
					Path:       journey[len(journey)-1],
					OccurredAt: endedAt,
				}
				if err := tx.Create(ev).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}
