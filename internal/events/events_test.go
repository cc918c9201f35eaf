package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revivalmetrics/internal/events"
	"revivalmetrics/internal/testsupport"
)

func TestRecordPageview(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	visitor := testsupport.CreateTestVisitor(t, db, testsupport.NewAnonID())

	pv := &events.Pageview{
		SessionID: testsupport.NewSessionID(),
		VisitorID: visitor.ID,
		Path:      "/events/spring-revival",
		URL:       "https://example.com/events/spring-revival?ref=home",
		Title:     "Spring Revival",
	}
	require.NoError(t, events.RecordPageview(db, logger, pv))

	assert.NotZero(t, pv.ID)
	assert.False(t, pv.OccurredAt.IsZero())
}

func TestRecordPageviewRequiresPath(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	err := events.RecordPageview(db, testsupport.GetLogger(), &events.Pageview{
		SessionID: testsupport.NewSessionID(),
		VisitorID: 1,
	})
	assert.Error(t, err)
}

func TestRecordPageviewIsAppendOnly(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	visitor := testsupport.CreateTestVisitor(t, db, testsupport.NewAnonID())
	sessionID := testsupport.NewSessionID()

	for i := 0; i < 3; i++ {
		pv := &events.Pageview{SessionID: sessionID, VisitorID: visitor.ID, Path: "/"}
		require.NoError(t, events.RecordPageview(db, logger, pv))
	}

	list, err := events.PageviewsForSession(db, sessionID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestRecordEvent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	visitor := testsupport.CreateTestVisitor(t, db, testsupport.NewAnonID())

	ev := &events.Event{
		SessionID:  testsupport.NewSessionID(),
		VisitorID:  visitor.ID,
		Name:       "donation_click",
		Properties: events.MarshalProperties(map[string]interface{}{"amount": 25}),
	}
	require.NoError(t, events.RecordEvent(db, logger, ev))

	assert.NotZero(t, ev.ID)
	props := ev.PropertiesMap()
	assert.EqualValues(t, 25, props["amount"])
}

func TestRecordEventRequiresName(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	err := events.RecordEvent(db, testsupport.GetLogger(), &events.Event{
		SessionID: testsupport.NewSessionID(),
		VisitorID: 1,
	})
	assert.Error(t, err)
}

func TestDeleteOlderThan(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	visitor := testsupport.CreateTestVisitor(t, db, testsupport.NewAnonID())
	sessionID := testsupport.NewSessionID()

	old := time.Now().UTC().AddDate(0, 0, -120)
	recent := time.Now().UTC()

	testsupport.CreateTestPageview(t, db, visitor.ID, sessionID, "/old", old)
	testsupport.CreateTestPageview(t, db, visitor.ID, sessionID, "/recent", recent)
	testsupport.CreateTestEvent(t, db, visitor.ID, sessionID, "old_event", old)

	removed, err := events.DeleteOlderThan(db, logger, time.Now().UTC().AddDate(0, 0, -90), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	list, err := events.PageviewsForSession(db, sessionID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/recent", list[0].Path)
}
