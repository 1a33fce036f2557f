package requestcontext

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestFromEchoContext(t *testing.T) {
	e := echo.New()

	t.Run("Propagates incoming ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-1")
		req.Header.Set("X-Trace-ID", "trace-1")
		c := e.NewContext(req, httptest.NewRecorder())
		c.Set("actor_id", "actor-1")

		reqCtx := FromEchoContext(c)
		assert.Equal(t, "req-1", reqCtx.RequestID)
		assert.Equal(t, "trace-1", reqCtx.TraceID)
		assert.Equal(t, "actor-1", reqCtx.ActorID)
	})

	t.Run("Generates missing ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		c := e.NewContext(req, httptest.NewRecorder())

		reqCtx := FromEchoContext(c)
		assert.NotEmpty(t, reqCtx.RequestID)
		assert.NotEmpty(t, reqCtx.TraceID)
		assert.Empty(t, reqCtx.ActorID)
	})
}

func TestWithRequestContext(t *testing.T) {
	reqCtx := NewRequestContext("dispatch")
	reqCtx.ActorID = "actor-9"

	ctx := WithRequestContext(context.Background(), reqCtx)
	assert.Equal(t, reqCtx.RequestID, GetRequestID(ctx))
	assert.Equal(t, reqCtx.TraceID, GetTraceID(ctx))
	assert.Equal(t, "actor-9", GetActorID(ctx))

	assert.Empty(t, GetRequestID(context.Background()))
}
