// Package rollups maintains the daily aggregate tables the admin
// dashboard reads from. Aggregates are derived state: Recompute
// rebuilds a day's rows from the raw sessions and events, so the
// retention job can prune raw data without losing history.
package rollups

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// DailyVisitorStat is one day of traffic totals.
type DailyVisitorStat struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Day       time.Time `gorm:"uniqueIndex:idx_visitor_day;type:datetime;not null"`
	Visitors  int       `gorm:"not null;default:0"`
	Sessions  int       `gorm:"not null;default:0"`
	Pageviews int       `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DailyVisitorStat) TableName() string { return "analytics_daily_visitor_stats" }

// DailyEventStat counts one named event for one day.
type DailyEventStat struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Day       time.Time `gorm:"uniqueIndex:idx_event_day;type:datetime;not null"`
	Name      string    `gorm:"uniqueIndex:idx_event_day;not null"`
	Count     int       `gorm:"not null;default:0"`
	Visitors  int       `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DailyEventStat) TableName() string { return "analytics_daily_event_stats" }

// DailyReferrerStat counts sessions per referrer for one day.
type DailyReferrerStat struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Day       time.Time `gorm:"uniqueIndex:idx_referrer_day;type:datetime;not null"`
	Referrer  string    `gorm:"uniqueIndex:idx_referrer_day;not null"`
	Sessions  int       `gorm:"not null;default:0"`
	Visitors  int       `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DailyReferrerStat) TableName() string { return "analytics_daily_referrer_stats" }

// DirectReferrer labels sessions that arrived with no referrer.
const DirectReferrer = "direct"

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Recompute rebuilds all three aggregate tables for the given day from
// raw sessions, pageviews, and events. Bot sessions are excluded from
// every aggregate. The rebuild is delete-then-insert inside one write
// so readers never see a half-updated day.
func Recompute(db *gorm.DB, logger *slog.Logger, day time.Time) error {
	dayStart := Day(day)
	dayEnd := dayStart.Add(24 * time.Hour)

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := recomputeVisitors(tx, dayStart, dayEnd); err != nil {
			return err
		}
		if err := recomputeEvents(tx, dayStart, dayEnd); err != nil {
			return err
		}
		return recomputeReferrers(tx, dayStart, dayEnd)
	})
	if err != nil {
		return fmt.Errorf("failed to recompute rollups for %s: %w", dayStart.Format("2006-01-02"), err)
	}

	logger.Debug("Recomputed daily rollups", slog.String("day", dayStart.Format("2006-01-02")))
	return nil
}

func recomputeVisitors(tx *gorm.DB, dayStart, dayEnd time.Time) error {
	if err := tx.Where("day = ?", dayStart).Delete(&DailyVisitorStat{}).Error; err != nil {
		return err
	}

	var stat struct {
		Visitors  int
		Sessions  int
		Pageviews int
	}
	err := tx.Raw(`
        SELECT
            COUNT(DISTINCT s.visitor_id) AS visitors,
            COUNT(*) AS sessions,
            COALESCE((
                SELECT COUNT(*) FROM analytics_pageviews p
                JOIN analytics_sessions ps ON ps.session_id = p.session_id
                WHERE p.occurred_at >= ? AND p.occurred_at < ? AND ps.is_bot = 0
            ), 0) AS pageviews
        FROM analytics_sessions s
        WHERE s.started_at >= ? AND s.started_at < ? AND s.is_bot = 0
    `, dayStart, dayEnd, dayStart, dayEnd).Scan(&stat).Error
	if err != nil {
		return err
	}

	if stat.Sessions == 0 && stat.Pageviews == 0 {
		return nil
	}

	return tx.Create(&DailyVisitorStat{
		Day:       dayStart,
		Visitors:  stat.Visitors,
		Sessions:  stat.Sessions,
		Pageviews: stat.Pageviews,
	}).Error
}

func recomputeEvents(tx *gorm.DB, dayStart, dayEnd time.Time) error {
	if err := tx.Where("day = ?", dayStart).Delete(&DailyEventStat{}).Error; err != nil {
		return err
	}

	var rows []struct {
		Name     string
		Count    int
		Visitors int
	}
	err := tx.Raw(`
        SELECT e.name AS name, COUNT(*) AS count, COUNT(DISTINCT e.visitor_id) AS visitors
        FROM analytics_events e
        LEFT JOIN analytics_sessions s ON s.session_id = e.session_id
        WHERE e.occurred_at >= ? AND e.occurred_at < ?
          AND (s.is_bot IS NULL OR s.is_bot = 0)
        GROUP BY e.name
    `, dayStart, dayEnd).Scan(&rows).Error
	if err != nil {
		return err
	}

	for _, row := range rows {
		stat := DailyEventStat{Day: dayStart, Name: row.Name, Count: row.Count, Visitors: row.Visitors}
		if err := tx.Create(&stat).Error; err != nil {
			return err
		}
	}
	return nil
}

func recomputeReferrers(tx *gorm.DB, dayStart, dayEnd time.Time) error {
	if err := tx.Where("day = ?", dayStart).Delete(&DailyReferrerStat{}).Error; err != nil {
		return err
	}

	var rows []struct {
		Referrer string
		Sessions int
		Visitors int
	}
	err := tx.Raw(`
        SELECT
            CASE WHEN referrer = '' THEN ? ELSE referrer END AS referrer,
            COUNT(*) AS sessions,
            COUNT(DISTINCT visitor_id) AS visitors
        FROM analytics_sessions
        WHERE started_at >= ? AND started_at < ? AND is_bot = 0
        GROUP BY CASE WHEN referrer = '' THEN ? ELSE referrer END
    `, DirectReferrer, dayStart, dayEnd, DirectReferrer).Scan(&rows).Error
	if err != nil {
		return err
	}

	for _, row := range rows {
		stat := DailyReferrerStat{Day: dayStart, Referrer: row.Referrer, Sessions: row.Sessions, Visitors: row.Visitors}
		if err := tx.Create(&stat).Error; err != nil {
			return err
		}
	}
	return nil
}

// VisitorSeries returns per-day traffic totals between from and to
// inclusive, oldest first. Days with no traffic have no row.
func VisitorSeries(db *gorm.DB, from, to time.Time) ([]DailyVisitorStat, error) {
	var series []DailyVisitorStat
	err := db.Where("day >= ? AND day <= ?", Day(from), Day(to)).
		Order("day ASC").Find(&series).Error
	return series, err
}

// TopReferrers returns the highest-traffic referrers in a day range.
func TopReferrers(db *gorm.DB, from, to time.Time, limit int) ([]DailyReferrerStat, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []DailyReferrerStat
	err := db.Raw(`
        SELECT referrer, SUM(sessions) AS sessions, SUM(visitors) AS visitors
        FROM analytics_daily_referrer_stats
        WHERE day >= ? AND day <= ?
        GROUP BY referrer
        ORDER BY sessions DESC
        LIMIT ?
    `, Day(from), Day(to), limit).Scan(&rows).Error
	return rows, err
}

// TopEvents returns the most frequent event names in a day range.
func TopEvents(db *gorm.DB, from, to time.Time, limit int) ([]DailyEventStat, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []DailyEventStat
	err := db.Raw(`
        SELECT name, SUM(count) AS count, SUM(visitors) AS visitors
        FROM analytics_daily_event_stats
        WHERE day >= ? AND day <= ?
        GROUP BY name
        ORDER BY count DESC
        LIMIT ?
    `, Day(from), Day(to), limit).Scan(&rows).Error
	return rows, err
}
