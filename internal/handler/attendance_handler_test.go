package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	"github.com/noah-isme/tap-attendance-api/internal/service"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

type tapServiceStub struct {
	cards       []string
	tapErr      error
	absentErr   error
	recentLimit int
}

func (s *tapServiceStub) RecordTap(_ context.Context, cardID string) (*service.TapResult, error) {
	s.cards = append(s.cards, cardID)
	if s.tapErr != nil {
		return nil, s.tapErr
	}
	return &service.TapResult{
		SessionID:   "sess-1",
		StudentID:   "stu-1",
		StudentName: "Ayu",
		ClassID:     "7A",
		Status:      models.AttendanceStatusLate,
		TapTime:     time.Date(2024, 1, 8, 8, 1, 55, 0, time.UTC),
	}, nil
}

func (s *tapServiceStub) MarkAbsent(_ context.Context, studentID string) (*models.AttendanceRecord, error) {
	if s.absentErr != nil {
		return nil, s.absentErr
	}
	return &models.AttendanceRecord{ID: "rec-1", StudentID: studentID, Status: models.AttendanceStatusAbsent}, nil
}

func (s *tapServiceStub) Recent(limit int) []models.RecentTap {
	s.recentLimit = limit
	return []models.RecentTap{{StudentID: "stu-1", Status: models.AttendanceStatusPresent}}
}

func TestAttendanceHandlerTap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &tapServiceStub{}
	h := NewAttendanceHandler(stub, nil)

	c, w := newGinContext(http.MethodPost, "/attendance/tap", []byte(`{"card_id":"04A1B2"}`))
	h.Tap(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"04A1B2"}, stub.cards)
	var body map[string]interface{}
	decodeData(t, decodeEnvelope(t, w), &body)
	assert.Equal(t, "LATE", body["status"])
	assert.Equal(t, "2024-01-08T08:01:55Z", body["tap_time"])
}

func TestAttendanceHandlerTapErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown card", appErrors.ErrCardNotFound, http.StatusNotFound, "card_not_found"},
		{"no session", appErrors.ErrNoSession, http.StatusConflict, "no_session"},
		{"duplicate", appErrors.ErrAlreadyMarked, http.StatusConflict, "already_marked"},
		{"storage", appErrors.Fatal(assert.AnError, "failed to record tap"), http.StatusServiceUnavailable, "storage_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAttendanceHandler(&tapServiceStub{tapErr: tc.err}, nil)
			c, w := newGinContext(http.MethodPost, "/attendance/tap", []byte(`{"card_id":"x"}`))
			h.Tap(c)

			require.Equal(t, tc.status, w.Code)
			env := decodeEnvelope(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestAttendanceHandlerTapRequiresCard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &tapServiceStub{}
	h := NewAttendanceHandler(stub, nil)

	c, w := newGinContext(http.MethodPost, "/attendance/tap", []byte(`{"card_id":""}`))
	h.Tap(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, stub.cards)
}

func TestAttendanceHandlerManualAbsent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAttendanceHandler(&tapServiceStub{}, nil)

	c, w := newGinContext(http.MethodPost, "/attendance/manual-absent/stu-2", nil)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-2"}}
	h.ManualAbsent(c)
	require.Equal(t, http.StatusCreated, w.Code)

	h = NewAttendanceHandler(&tapServiceStub{absentErr: appErrors.ErrAlreadyMarked}, nil)
	c, w = newGinContext(http.MethodPost, "/attendance/manual-absent/stu-2", nil)
	c.Params = gin.Params{{Key: "studentId", Value: "stu-2"}}
	h.ManualAbsent(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAttendanceHandlerRecentClampsLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &tapServiceStub{}
	h := NewAttendanceHandler(stub, nil)

	c, _ := newGinContext(http.MethodGet, "/attendance/recent?limit=500", nil)
	h.Recent(c)
	assert.Equal(t, maxRecentLimit, stub.recentLimit)

	c, _ = newGinContext(http.MethodGet, "/attendance/recent?limit=abc", nil)
	h.Recent(c)
	assert.Equal(t, defaultRecentLimit, stub.recentLimit)

	c, w := newGinContext(http.MethodGet, "/attendance/recent?limit=5", nil)
	h.Recent(c)
	assert.Equal(t, 5, stub.recentLimit)
	assert.Equal(t, http.StatusOK, w.Code)
}
