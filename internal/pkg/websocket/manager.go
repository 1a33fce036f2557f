package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	jwtpkg "github.com/piresc/nebengjek-dispatch/internal/pkg/jwt"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

const writeWait = 10 * time.Second

// Client is one authenticated websocket connection. Writes are serialized.
type Client struct {
	ID    string
	Actor models.Actor
	Conn  *websocket.Conn

	writeMu sync.Mutex
}

// Send writes an event frame to the client
func (c *Client) Send(event string, data interface{}) error {
	if c.Conn == nil {
		return nil
	}

	rawData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshaling message data: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(models.WSMessage{Event: event, Data: rawData})
}

// Manager authenticates websocket upgrades and tracks live connections
type Manager struct {
	sync.RWMutex
	clients  map[string]*Client
	cfg      models.JWTConfig
	upgrader websocket.Upgrader
}

// NewManager creates a new WebSocket manager
func NewManager(jwtConfig models.JWTConfig) *Manager {
	return &Manager{
		clients: make(map[string]*Client),
		cfg:     jwtConfig,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection authenticates, upgrades and hands the connection to handleClient.
// The client is tracked for the duration of handleClient.
func (m *Manager) HandleConnection(c echo.Context, handleClient func(*Client) error) error {
	actor, err := m.authenticate(c)
	if err != nil {
		return err
	}

	ws, err := m.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	client := &Client{ID: uuid.NewString(), Actor: actor, Conn: ws}
	m.AddClient(client)
	defer m.RemoveClient(client.ID)

	return handleClient(client)
}

// authenticate accepts the token from the Authorization header or the access_token query parameter
func (m *Manager) authenticate(c echo.Context) (models.Actor, error) {
	token := c.QueryParam("access_token")
	if authHeader := c.Request().Header.Get(echo.HeaderAuthorization); authHeader != "" {
		const prefix = "Bearer "
		if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
			return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
		}
		token = authHeader[len(prefix):]
	}
	if token == "" {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
	}

	claims, err := jwtpkg.ValidateToken(token, m.cfg.Secret)
	if err != nil {
		logger.Warn("Token validation failed", logger.Err(err))
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}
	actor, err := claims.Actor()
	if err != nil {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return actor, nil
}

// AddClient safely adds a client to the manager
func (m *Manager) AddClient(client *Client) {
	m.Lock()
	defer m.Unlock()
	m.clients[client.ID] = client
}

// RemoveClient safely removes a client from the manager
func (m *Manager) RemoveClient(clientID string) {
	m.Lock()
	defer m.Unlock()
	delete(m.clients, clientID)
}

// ClientCount returns the number of live connections
func (m *Manager) ClientCount() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.clients)
}

// SendErrorMessage sends an error frame to a client
func (m *Manager) SendErrorMessage(client *Client, code string, message string) error {
	return client.Send(constants.EventError, models.WSErrorMessage{
		Code:    code,
		Message: message,
	})
}

// SendCategorizedError logs err and sends the client as much of it as severity allows
func (m *Manager) SendCategorizedError(client *Client, err error, code string, severity constants.ErrorSeverity) error {
	logger.Error("WebSocket operation failed",
		logger.String("actor_id", client.Actor.ID.String()),
		logger.String("error_code", code),
		logger.String("severity", severityString(severity)),
		logger.Err(err))

	switch severity {
	case constants.ErrorSeverityClient:
		return m.SendErrorMessage(client, code, err.Error())
	case constants.ErrorSeveritySecurity:
		return m.SendErrorMessage(client, code, "Access denied")
	default:
		return m.SendErrorMessage(client, code, "Operation failed")
	}
}

func severityString(severity constants.ErrorSeverity) string {
	switch severity {
	case constants.ErrorSeverityClient:
		return "client"
	case constants.ErrorSeverityServer:
		return "server"
	case constants.ErrorSeveritySecurity:
		return "security"
	default:
		return "unknown"
	}
}
