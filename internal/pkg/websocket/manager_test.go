package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	jwtpkg "github.com/piresc/nebengjek-dispatch/internal/pkg/jwt"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, m *Manager, handle func(*Client) error) *httptest.Server {
	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return m.HandleConnection(c, handle)
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestManager_HandleConnection(t *testing.T) {
	cfg := &models.Config{JWT: models.JWTConfig{Secret: "ws-secret", Expiration: 5}}
	m := NewManager(cfg.JWT)
	riderID := uuid.New()

	srv := newTestServer(t, m, func(client *Client) error {
		assert.Equal(t, riderID, client.Actor.ID)
		assert.Equal(t, 1, m.ClientCount())
		if err := client.Send(constants.EventSnapshot, models.FeedSnapshot{SubscriptionID: "s1"}); err != nil {
			return err
		}
		return m.SendCategorizedError(client, errors.New("db down"), constants.ErrorInternalError, constants.ErrorSeverityServer)
	})

	token, _, err := jwtpkg.GenerateToken(riderID, models.RoleRider, "", cfg)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?access_token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg models.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, constants.EventSnapshot, msg.Event)
	var snap models.FeedSnapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	assert.Equal(t, "s1", snap.SubscriptionID)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, constants.EventError, msg.Event)
	var wsErr models.WSErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &wsErr))
	assert.Equal(t, "Operation failed", wsErr.Message, "server errors are not leaked")
}

func TestManager_RejectsUnauthenticated(t *testing.T) {
	m := NewManager(models.JWTConfig{Secret: "ws-secret"})
	srv := newTestServer(t, m, func(*Client) error {
		t.Fatal("handler must not run")
		return nil
	})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClient_SendWithoutConn(t *testing.T) {
	c := &Client{}
	assert.NoError(t, c.Send(constants.EventTripUpdated, nil))
}
