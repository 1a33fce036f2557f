package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/requestcontext"
)

const contextRequest = "request_context"

// RequestContextMiddleware creates a middleware that adds request context to Echo context.
// Routes under /v1/trips/:id also carry the trip id, so every log line written
// through logger.*Ctx while serving them names the trip.
func RequestContextMiddleware(serviceName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqCtx := requestcontext.FromEchoContext(c)
			reqCtx.ServiceName = serviceName
			if strings.HasPrefix(c.Path(), "/v1/trips/:id") {
				reqCtx.TripID = c.Param("id")
			}

			c.Set("request_id", reqCtx.RequestID)
			storeRequestContext(c, reqCtx)

			c.Response().Header().Set(echo.HeaderXRequestID, reqCtx.RequestID)
			c.Response().Header().Set("X-Trace-ID", reqCtx.TraceID)

			return next(c)
		}
	}
}

// GetRequestContext extracts request context from Echo context
func GetRequestContext(c echo.Context) *requestcontext.RequestContext {
	if reqCtx, ok := c.Get(contextRequest).(*requestcontext.RequestContext); ok {
		return reqCtx
	}
	return nil
}

// bindActor records the authenticated actor on the request context. Auth runs
// per route group, after the request context is built.
func bindActor(c echo.Context, actorID string) {
	reqCtx := GetRequestContext(c)
	if reqCtx == nil {
		return
	}
	next := *reqCtx
	next.ActorID = actorID
	storeRequestContext(c, &next)
}

func storeRequestContext(c echo.Context, reqCtx *requestcontext.RequestContext) {
	c.Set(contextRequest, reqCtx)
	ctx := requestcontext.WithRequestContext(c.Request().Context(), reqCtx)
	c.SetRequest(c.Request().WithContext(ctx))
}
