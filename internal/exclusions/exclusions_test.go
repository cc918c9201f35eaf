package exclusions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/testsupport"
)

func TestExcludeRequiresIdentifier(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	err := exclusions.Exclude(db, testsupport.GetLogger(), &exclusions.ExcludedUser{Reason: "staff"})
	assert.ErrorIs(t, err, exclusions.ErrNoIdentifier)
}

func TestIsExcludedMatchesAnyIdentifier(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	anonID := testsupport.NewAnonID()
	sessionID := testsupport.NewSessionID()

	require.NoError(t, exclusions.Exclude(db, logger, &exclusions.ExcludedUser{
		AnonID:    anonID,
		SessionID: sessionID,
		IPAddress: "203.0.113.7",
		Reason:    "staff",
	}))

	assert.True(t, exclusions.IsExcluded(db, anonID, "", ""))
	assert.True(t, exclusions.IsExcluded(db, "", sessionID, ""))
	assert.True(t, exclusions.IsExcluded(db, "", "", "203.0.113.7"))
	assert.True(t, exclusions.IsExcluded(db, anonID, testsupport.NewSessionID(), "198.51.100.1"))
}

func TestIsExcludedMatchesVisitorID(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	anonID := testsupport.NewAnonID()
	visitor := testsupport.CreateTestVisitor(t, db, anonID)

	// Tombstone pins the server-assigned visitor id only; hits still
	// arrive carrying the anon id.
	require.NoError(t, exclusions.Exclude(db, logger, &exclusions.ExcludedUser{
		VisitorID: visitor.ID,
		Reason:    "staff",
	}))

	assert.True(t, exclusions.IsExcluded(db, anonID, "", ""))
	assert.False(t, exclusions.IsExcluded(db, testsupport.NewAnonID(), "", ""))
}

func TestIsExcludedEmptyIdentifiersNeverMatch(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	require.NoError(t, exclusions.Exclude(db, logger, &exclusions.ExcludedUser{
		AnonID: testsupport.NewAnonID(),
	}))

	// The tombstone's empty session id and IP must not match other
	// hits that also carry empty fields.
	assert.False(t, exclusions.IsExcluded(db, "", "", ""))
	assert.False(t, exclusions.IsExcluded(db, testsupport.NewAnonID(), "", ""))
}

func TestRemoveExclusion(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	anonID := testsupport.NewAnonID()

	require.NoError(t, exclusions.Exclude(db, logger, &exclusions.ExcludedUser{AnonID: anonID}))

	list, err := exclusions.List(db)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, exclusions.RemoveExclusion(db, logger, list[0].ID))

	assert.False(t, exclusions.IsExcluded(db, anonID, "", ""))

	list, err = exclusions.List(db)
	require.NoError(t, err)
	assert.Empty(t, list)
}
