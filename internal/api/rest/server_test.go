package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/feeder"
	"github.com/KevinKickass/OpenFeederCore/internal/i2c/i2ctest"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticStatus map[string]any

func (s staticStatus) SystemStatus() any { return map[string]any(s) }

// errorPayload ist die Client-Sicht auf eine Fehlerantwort
type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type restFixture struct {
	server  *Server
	manager *feeder.Manager
	clock   *clock.Mock
}

// newRestFixture baut eine Flotte aus zwei Feedern an einem PCA9685 ohne
// Rückmelde-Expander und hängt die Monitoring-API davor
func newRestFixture(t *testing.T) *restFixture {
	t.Helper()

	bus := i2ctest.NewBus()
	mock := clock.NewMock()

	manager := feeder.NewManager(feeder.ManagerOptions{
		Bus:    bus,
		Store:  storage.NewMemoryStore(),
		Clock:  mock,
		Logger: zaptest.NewLogger(t),
		I2C: config.I2CConfig{
			PCA9685BaseAddress:   0x40,
			PCA9685Count:         1,
			PCA9685Frequency:     50,
			MCP23017BaseAddress:  0x20,
			MCP23017Count:        0,
			FeedbackPollInterval: 50 * time.Millisecond,
		},
		Fleet:    config.FeederConfig{MaxCount: 2},
		Defaults: feeder.DefaultConfig(),
	})
	require.NoError(t, manager.Start(context.Background()))

	// Ruhestellung aller Feeder abschliessen
	mock.Add(time.Duration(feeder.DefaultSettleTimeMs) * time.Millisecond)

	cfg := &config.Config{}
	hub := websocket.NewHub(zaptest.NewLogger(t))

	server := NewServer(cfg, manager, staticStatus{"state": "RUNNING"}, hub, zaptest.NewLogger(t))
	return &restFixture{server: server, manager: manager, clock: mock}
}

func (fx *restFixture) request(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	fx.server.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSystemStatus(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodGet, "/api/v1/system/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RUNNING", body["state"])
}

func TestListFeeders(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodGet, "/api/v1/feeders")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count   int            `json:"count"`
		Feeders []feeder.Event `json:"feeders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, 0, body.Feeders[0].ID)
	assert.Equal(t, feeder.PositionRetracted, body.Feeders[0].Position)
	assert.Equal(t, feeder.StatusDisabled, body.Feeders[0].Status)
}

func TestGetFeederByIndex(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodGet, "/api/v1/feeders/0")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ID      int  `json:"id"`
		Enabled bool `json:"enabled"`
		Config  struct {
			FullAngle    uint8 `json:"full_angle"`
			FeedLengthMm uint8 `json:"feed_length_mm"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.ID)
	assert.False(t, body.Enabled)
	assert.Equal(t, uint8(90), body.Config.FullAngle)
	assert.Equal(t, uint8(4), body.Config.FeedLengthMm)
}

func TestGetFeederByUUID(t *testing.T) {
	fx := newRestFixture(t)

	f, ok := fx.manager.Feeder(1)
	require.True(t, ok)

	w := fx.request(t, http.MethodGet, "/api/v1/feeders/"+f.UID().String())
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.ID)
}

func TestGetFeederNotFound(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodGet, "/api/v1/feeders/9")
	require.Equal(t, http.StatusNotFound, w.Code)

	var body errorPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FEEDER_404", body.Error.Code)
}

func TestGetFeederInvalidID(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodGet, "/api/v1/feeders/bogus")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body errorPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FEEDER_400", body.Error.Code)
}

func TestWaitReturnsForIdleFeeder(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodPost, "/api/v1/feeders/0/wait")
	require.Equal(t, http.StatusOK, w.Code)

	var event feeder.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &event))
	assert.Equal(t, feeder.PositionRetracted, event.Position)
}

func TestWaitTimesOutWhileMoving(t *testing.T) {
	fx := newRestFixture(t)

	f, ok := fx.manager.Feeder(0)
	require.True(t, ok)
	f.Enable()
	require.True(t, f.Move(4))

	w := fx.request(t, http.MethodPost, "/api/v1/feeders/0/wait?timeout_ms=50")
	require.Equal(t, http.StatusRequestTimeout, w.Code)

	var body errorPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FEEDER_408", body.Error.Code)
}

func TestWaitRejectsInvalidTimeout(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodPost, "/api/v1/feeders/0/wait?timeout_ms=abc")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWsStatusReportsClients(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodGet, "/api/v1/ws/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 0, body["connected_clients"])
}

func TestCORSPreflight(t *testing.T) {
	fx := newRestFixture(t)

	w := fx.request(t, http.MethodOptions, "/api/v1/feeders")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
