package v1

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"revivalmetrics/internal/events"
	"revivalmetrics/internal/exclusions"
	"revivalmetrics/internal/sessions"
	"revivalmetrics/internal/visitors"
)

// batchMaxOperations caps a single batch request.
const batchMaxOperations = 100

type batchParams struct {
	User      *upsertUserParams   `json:"user"`
	Session   *startSessionParams `json:"session"`
	Pageviews []pageviewParams    `json:"pageviews"`
	Events    []eventParams       `json:"events"`
}

// batchError carries the HTTP response of the first failed operation.
type batchError struct {
	status int
	body   fiber.Map
}

func (e *batchError) Error() string { return fmt.Sprintf("batch operation failed: %v", e.body) }

// batchAck accumulates the ids of everything stored so far. Excluded
// traffic is skipped without an id, so the sets can be shorter than the
// input.
type batchAck struct {
	userID      uint
	sessionID   string
	pageviewIDs []uint
	eventIDs    []uint
	processed   int
}

func (a *batchAck) fill(body fiber.Map) {
	body["processed"] = a.processed
	if a.userID != 0 {
		body["userId"] = a.userID
	}
	if a.sessionID != "" {
		body["sessionId"] = a.sessionID
	}
	if len(a.pageviewIDs) > 0 {
		body["pageviewIds"] = a.pageviewIDs
	}
	if len(a.eventIDs) > 0 {
		body["eventIds"] = a.eventIDs
	}
}

// BatchHandler handles POST /x/api/v1/batch. The payload bundles an
// optional user upsert, an optional session start, and lists of
// pageviews and events, applied in that order without a surrounding
// transaction: processing stops at the first failure and everything
// before it stays committed. The ack combines whichever ids were
// stored, plus processed and, on failure, the index of the operation
// that failed.
func BatchHandler(ctx *cartridge.Context) error {
	var params batchParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return respondMalformedBody(ctx.Ctx)
	}

	total := len(params.Pageviews) + len(params.Events)
	if params.User != nil {
		total++
	}
	if params.Session != nil {
		total++
	}
	if total == 0 {
		return batchShapeError(ctx, "must contain at least one of user, session, pageviews, events")
	}
	if total > batchMaxOperations {
		return batchShapeError(ctx, fmt.Sprintf("must contain at most %d operations", batchMaxOperations))
	}

	db := ctx.DB()
	logger := ctx.Logger
	clientIP := getClientIP(ctx.Ctx)
	userAgent := resolveUserAgent(ctx.Ctx, "")

	// Pageviews and events may omit anonId/sessionId when the batch
	// carries the identity parts that supply them.
	defaultAnonID := ""
	defaultSessionID := ""
	if params.User != nil {
		defaultAnonID = params.User.AnonID
	}
	if params.Session != nil {
		if defaultAnonID == "" {
			defaultAnonID = params.Session.AnonID
		}
		defaultSessionID = params.Session.SessionID
	}

	ack := &batchAck{}
	index := 0
	failed := func(err error) error {
		batchErr, ok := err.(*batchError)
		if !ok {
			batchErr = &batchError{
				status: http.StatusInternalServerError,
				body:   fiber.Map{"error": "Failed to apply operation"},
			}
		}
		body := fiber.Map{"failedIndex": index}
		ack.fill(body)
		for k, v := range batchErr.body {
			body[k] = v
		}
		return ctx.Status(batchErr.status).JSON(body)
	}

	if params.User != nil {
		if err := validateBatchPart(params.User); err != nil {
			return failed(err)
		}
		if !exclusions.IsExcluded(db, params.User.AnonID, "", clientIP) {
			visitor, err := visitors.UpsertByAnonID(db, logger, params.User.AnonID, params.User.Traits)
			if err != nil {
				return failed(serverBatchError("Failed to store user"))
			}
			ack.userID = visitor.ID
		}
		ack.processed++
		index++
	}

	if params.Session != nil {
		if err := validateBatchPart(params.Session); err != nil {
			return failed(err)
		}
		if !exclusions.IsExcluded(db, params.Session.AnonID, params.Session.SessionID, clientIP) {
			ua := params.Session.UserAgent
			if ua == "" {
				ua = userAgent
			}
			session, visitor, err := sessions.Start(db, logger, &sessions.StartInput{
				AnonID:         params.Session.AnonID,
				SessionID:      params.Session.SessionID,
				LandingPage:    params.Session.LandingPage,
				LandingPath:    params.Session.LandingPath,
				Referrer:       params.Session.Referrer,
				UTMSource:      params.Session.UTMSource,
				UTMMedium:      params.Session.UTMMedium,
				UTMCampaign:    params.Session.UTMCampaign,
				UTMTerm:        params.Session.UTMTerm,
				UTMContent:     params.Session.UTMContent,
				DeviceCategory: params.Session.DeviceCategory,
				BrowserName:    params.Session.BrowserName,
				BrowserVersion: params.Session.BrowserVersion,
				OSName:         params.Session.OSName,
				OSVersion:      params.Session.OSVersion,
				UserAgent:      ua,
				IPAddress:      clientIP,
			})
			if err != nil {
				return failed(serverBatchError("Failed to start session"))
			}
			ack.sessionID = session.SessionID
			if ack.userID == 0 {
				ack.userID = visitor.ID
			}
		}
		ack.processed++
		index++
	}

	for i := range params.Pageviews {
		pv := &params.Pageviews[i]
		if pv.AnonID == "" {
			pv.AnonID = defaultAnonID
		}
		if pv.SessionID == "" {
			pv.SessionID = defaultSessionID
		}
		if err := validateBatchPart(pv); err != nil {
			return failed(err)
		}
		if !exclusions.IsExcluded(db, pv.AnonID, pv.SessionID, clientIP) {
			visitor, err := resolveVisitor(db, logger, pv.AnonID)
			if err != nil {
				return failed(serverBatchError("Failed to store pageview"))
			}
			row := &events.Pageview{
				SessionID:  pv.SessionID,
				VisitorID:  visitor.ID,
				Path:       pv.Path,
				URL:        pv.URL,
				Title:      pv.Title,
				Referrer:   pv.Referrer,
				Properties: events.MarshalProperties(pv.Properties),
			}
			if pv.OccurredAt != nil {
				row.OccurredAt = pv.OccurredAt.UTC()
			}
			if err := events.RecordPageview(db, logger, row); err != nil {
				return failed(serverBatchError("Failed to store pageview"))
			}
			ack.pageviewIDs = append(ack.pageviewIDs, row.ID)
		}
		ack.processed++
		index++
	}

	for i := range params.Events {
		ev := &params.Events[i]
		if ev.AnonID == "" {
			ev.AnonID = defaultAnonID
		}
		if ev.SessionID == "" {
			ev.SessionID = defaultSessionID
		}
		if err := validateBatchPart(ev); err != nil {
			return failed(err)
		}
		if !exclusions.IsExcluded(db, ev.AnonID, ev.SessionID, clientIP) {
			visitor, err := resolveVisitor(db, logger, ev.AnonID)
			if err != nil {
				return failed(serverBatchError("Failed to store event"))
			}
			row := &events.Event{
				SessionID:  ev.SessionID,
				VisitorID:  visitor.ID,
				Name:       ev.Name,
				Label:      ev.Label,
				ValueNum:   ev.ValueNum,
				ValueText:  ev.ValueText,
				Path:       ev.Path,
				Properties: events.MarshalProperties(ev.Properties),
			}
			if ev.OccurredAt != nil {
				row.OccurredAt = ev.OccurredAt.UTC()
			}
			if err := events.RecordEvent(db, logger, row); err != nil {
				return failed(serverBatchError("Failed to store event"))
			}
			ack.eventIDs = append(ack.eventIDs, row.ID)
		}
		ack.processed++
		index++
	}

	body := fiber.Map{"ok": true}
	ack.fill(body)
	return ctx.Status(http.StatusOK).JSON(body)
}

func validateBatchPart(target interface{}) error {
	if err := validate.Struct(target); err != nil {
		return &batchError{
			status: http.StatusBadRequest,
			body: fiber.Map{
				"error":   errInvalidRequestData,
				"details": validationDetails(err),
			},
		}
	}
	return nil
}

func batchShapeError(ctx *cartridge.Context, message string) error {
	return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": errInvalidRequestData,
		"details": []ValidationDetail{
			{Field: "batch", Message: message},
		},
	})
}

func serverBatchError(message string) error {
	return &batchError{
		status: http.StatusInternalServerError,
		body:   fiber.Map{"error": message},
	}
}
