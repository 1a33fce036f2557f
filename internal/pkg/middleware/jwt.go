package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	jwtpkg "github.com/piresc/nebengjek-dispatch/internal/pkg/jwt"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
)

// Context keys set by JWTAuthMiddleware
const (
	ContextActor     = "actor"
	ContextActorID   = "actor_id"
	ContextActorRole = "actor_role"
	ContextActorName = "actor_name"
)

// JWTAuthMiddleware authenticates the bearer token and stores the actor in the context
func JWTAuthMiddleware(config models.JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, ok := bearerToken(c)
			if !ok {
				return utils.UnauthorizedResponse(c, "Authorization header is required")
			}

			claims, err := jwtpkg.ValidateToken(tokenString, config.Secret)
			if err != nil {
				return utils.UnauthorizedResponse(c, "Invalid token")
			}

			actor, err := claims.Actor()
			if err != nil {
				return utils.UnauthorizedResponse(c, err.Error())
			}

			c.Set(ContextActor, actor)
			c.Set(ContextActorID, actor.ID.String())
			c.Set(ContextActorRole, string(actor.Role))
			c.Set(ContextActorName, claims.Name)
			AddAttribute(c, "actor.id", actor.ID.String())
			bindActor(c, actor.ID.String())

			return next(c)
		}
	}
}

// RequireRole rejects actors whose role is not one of roles
func RequireRole(roles ...models.ActorRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c)
			if !ok {
				return utils.UnauthorizedResponse(c, "Authentication required")
			}
			for _, r := range roles {
				if actor.Role == r {
					return next(c)
				}
			}
			return utils.ForbiddenResponse(c, "Role not allowed for this operation")
		}
	}
}

// ActorFromContext returns the authenticated actor
func ActorFromContext(c echo.Context) (models.Actor, bool) {
	actor, ok := c.Get(ContextActor).(models.Actor)
	return actor, ok
}

// ActorNameFromContext returns the display name carried in the token, if any
func ActorNameFromContext(c echo.Context) string {
	name, _ := c.Get(ContextActorName).(string)
	return name
}

// bearerToken reads the token from the Authorization header, falling back
// to the access_token query parameter for websocket upgrades.
func bearerToken(c echo.Context) (string, bool) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.QueryParam("access_token"); token != "" {
		return token, true
	}
	return "", false
}
