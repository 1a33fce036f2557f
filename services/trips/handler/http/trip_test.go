package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/middleware"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/services/trips/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(method, body string, actor *models.Actor) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/", reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if actor != nil {
		c.Set(middleware.ContextActor, *actor)
		c.Set(middleware.ContextActorName, "Sari")
	}
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewTripHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockUC := mocks.NewMockTripUC(ctrl)
	handler := NewTripHandler(mockUC)

	assert.NotNil(t, handler)
	assert.Equal(t, mockUC, handler.tripUC)
}

func TestTripHandler_CreateTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockUC := mocks.NewMockTripUC(ctrl)
	handler := NewTripHandler(mockUC)
	rider := models.Actor{ID: uuid.New(), Role: models.RoleRider}

	mockUC.EXPECT().
		CreateTrip(gomock.Any(), rider, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ models.Actor, req models.CreateTripRequest) (*models.Trip, error) {
			assert.Equal(t, "Sari", req.RiderDisplayName, "display name falls back to the token name")
			assert.Equal(t, "Mall X", req.Destination.Label)
			require.NotNil(t, req.Pickup.Latitude)
			return &models.Trip{ID: uuid.New(), RiderID: rider.ID, Status: models.TripStatusWaiting}, nil
		})

	c, rec := newContext(http.MethodPost, `{"pickup":{"lat":-6.2,"lng":106.8},"destination":{"label":"Mall X"}}`, &rider)

	err := handler.CreateTrip(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "waiting", data["status"])
}

func TestTripHandler_CreateTrip_Errors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockUC := mocks.NewMockTripUC(ctrl)
	handler := NewTripHandler(mockUC)
	rider := models.Actor{ID: uuid.New(), Role: models.RoleRider}

	c, rec := newContext(http.MethodPost, `{"pickup":`, &rider)
	require.NoError(t, handler.CreateTrip(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newContext(http.MethodPost, `{}`, nil)
	require.NoError(t, handler.CreateTrip(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	mockUC.EXPECT().
		CreateTrip(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, apperror.New(apperror.KindValidation, "usecase.CreateTrip", "destination.label is required"))
	c, rec = newContext(http.MethodPost, `{"pickup":{"label":"A"}}`, &rider)
	require.NoError(t, handler.CreateTrip(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "validation_error", body["kind"])
	assert.Contains(t, body["error"], "destination.label is required")
}

func TestTripHandler_ClaimTrip_Outcomes(t *testing.T) {
	driver := models.Actor{ID: uuid.New(), Role: models.RoleDriver}
	tripID := uuid.New()

	testCases := []struct {
		name       string
		param      string
		mockSetup  func(mockUC *mocks.MockTripUC)
		wantStatus int
		wantKind   string
	}{
		{
			name:  "Claimed",
			param: tripID.String(),
			mockSetup: func(mockUC *mocks.MockTripUC) {
				mockUC.EXPECT().ClaimTrip(gomock.Any(), driver, tripID).
					Return(&models.Trip{ID: tripID, Status: models.TripStatusClaimed, AssignedDriverID: &driver.ID}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:  "Already taken",
			param: tripID.String(),
			mockSetup: func(mockUC *mocks.MockTripUC) {
				mockUC.EXPECT().ClaimTrip(gomock.Any(), driver, tripID).
					Return(nil, apperror.New(apperror.KindAlreadyTaken, "claim.Claim", "trip is no longer available"))
			},
			wantStatus: http.StatusConflict,
			wantKind:   "already_taken",
		},
		{
			name:  "Network error",
			param: tripID.String(),
			mockSetup: func(mockUC *mocks.MockTripUC) {
				mockUC.EXPECT().ClaimTrip(gomock.Any(), driver, tripID).
					Return(nil, apperror.Wrap(apperror.KindNetworkError, "claim.Claim", errors.New("i/o timeout")))
			},
			wantStatus: http.StatusBadGateway,
			wantKind:   "network_error",
		},
		{
			name:       "Malformed id",
			param:      "not-a-uuid",
			mockSetup:  func(*mocks.MockTripUC) {},
			wantStatus: http.StatusBadRequest,
			wantKind:   "validation_error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockUC := mocks.NewMockTripUC(ctrl)
			tc.mockSetup(mockUC)
			handler := NewTripHandler(mockUC)

			c, rec := newContext(http.MethodPost, "", &driver)
			c.SetParamNames("id")
			c.SetParamValues(tc.param)

			err := handler.ClaimTrip(c)

			assert.NoError(t, err)
			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantKind != "" {
				assert.Equal(t, tc.wantKind, decode(t, rec)["kind"])
			}
		})
	}
}

func TestTripHandler_AdvanceTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockUC := mocks.NewMockTripUC(ctrl)
	handler := NewTripHandler(mockUC)
	driver := models.Actor{ID: uuid.New(), Role: models.RoleDriver}
	tripID := uuid.New()

	mockUC.EXPECT().
		AdvanceTrip(gomock.Any(), driver, tripID, models.TripStatusEnRouteToPickup).
		Return(&models.Trip{ID: tripID, Status: models.TripStatusEnRouteToPickup}, nil)
	mockUC.EXPECT().
		AdvanceTrip(gomock.Any(), driver, tripID, models.TripStatusCompleted).
		Return(nil, apperror.New(apperror.KindInvalidTransition, "lifecycle.Authorize", "cannot move trip from claimed to completed"))

	c, rec := newContext(http.MethodPost, `{"to":"en_route_to_pickup"}`, &driver)
	c.SetParamNames("id")
	c.SetParamValues(tripID.String())
	require.NoError(t, handler.AdvanceTrip(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newContext(http.MethodPost, `{"to":"completed"}`, &driver)
	c.SetParamNames("id")
	c.SetParamValues(tripID.String())
	require.NoError(t, handler.AdvanceTrip(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode(t, rec)["kind"])

	c, rec = newContext(http.MethodPost, `{}`, &driver)
	c.SetParamNames("id")
	c.SetParamValues(tripID.String())
	require.NoError(t, handler.AdvanceTrip(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTripHandler_CancelTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockUC := mocks.NewMockTripUC(ctrl)
	handler := NewTripHandler(mockUC)
	rider := models.Actor{ID: uuid.New(), Role: models.RoleRider}
	tripID := uuid.New()

	gomock.InOrder(
		mockUC.EXPECT().CancelTrip(gomock.Any(), rider, tripID, "too slow").
			Return(&models.Trip{ID: tripID, Status: models.TripStatusCancelled}, nil),
		mockUC.EXPECT().CancelTrip(gomock.Any(), rider, tripID, "").
			Return(&models.Trip{ID: tripID, Status: models.TripStatusCancelled}, nil),
	)

	c, rec := newContext(http.MethodPost, `{"reason":"too slow"}`, &rider)
	c.SetParamNames("id")
	c.SetParamValues(tripID.String())
	require.NoError(t, handler.CancelTrip(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newContext(http.MethodPost, "", &rider)
	c.SetParamNames("id")
	c.SetParamValues(tripID.String())
	require.NoError(t, handler.CancelTrip(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTripHandler_ActiveTrip_None(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockUC := mocks.NewMockTripUC(ctrl)
	handler := NewTripHandler(mockUC)
	rider := models.Actor{ID: uuid.New(), Role: models.RoleRider}

	mockUC.EXPECT().ActiveTrip(gomock.Any(), rider).Return(nil, nil)

	c, rec := newContext(http.MethodGet, "", &rider)
	require.NoError(t, handler.ActiveTrip(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Nil(t, body["data"])
}

func TestTripHandler_Reads(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockUC := mocks.NewMockTripUC(ctrl)
	handler := NewTripHandler(mockUC)
	driver := models.Actor{ID: uuid.New(), Role: models.RoleDriver}
	trip := &models.Trip{ID: uuid.New(), Status: models.TripStatusWaiting, CreatedAt: time.Now()}
	d := 2.5

	mockUC.EXPECT().GetTrip(gomock.Any(), driver, trip.ID).Return(trip, nil)
	mockUC.EXPECT().OpenTrips(gomock.Any(), driver).Return([]*models.Trip{trip}, nil)
	mockUC.EXPECT().Candidates(gomock.Any(), driver).Return([]models.Candidate{{Trip: trip, DistanceKm: &d}}, nil)

	c, rec := newContext(http.MethodGet, "", &driver)
	c.SetParamNames("id")
	c.SetParamValues(trip.ID.String())
	require.NoError(t, handler.GetTrip(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newContext(http.MethodGet, "", &driver)
	require.NoError(t, handler.OpenTrips(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)

	c, rec = newContext(http.MethodGet, "", &driver)
	require.NoError(t, handler.Candidates(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	candidates := decode(t, rec)["data"].([]interface{})
	require.Len(t, candidates, 1)
	assert.Equal(t, 2.5, candidates[0].(map[string]interface{})["distance_km"])
}

func TestTripHandler_UpdatePresence(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockUC := mocks.NewMockTripUC(ctrl)
	handler := NewTripHandler(mockUC)
	driver := models.Actor{ID: uuid.New(), Role: models.RoleDriver}

	mockUC.EXPECT().
		UpdatePresence(gomock.Any(), driver, gomock.Any()).
		DoAndReturn(func(_ context.Context, actor models.Actor, req models.PresenceUpdateRequest) (*models.DriverPresence, error) {
			assert.Equal(t, -6.2, req.Latitude)
			require.NotNil(t, req.Available)
			assert.True(t, *req.Available)
			return &models.DriverPresence{DriverID: actor.ID, Available: true}, nil
		})

	c, rec := newContext(http.MethodPut, `{"lat":-6.2,"lng":106.8,"accuracy_m":5,"available":true}`, &driver)

	require.NoError(t, handler.UpdatePresence(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}
