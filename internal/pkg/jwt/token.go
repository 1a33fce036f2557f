package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

// ErrInvalidClaims is returned when a token parses but does not carry a usable actor
var ErrInvalidClaims = errors.New("invalid token claims")

// Claims identifies the actor behind a request
type Claims struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the domain actor
func (c *Claims) Actor() (models.Actor, error) {
	id, err := uuid.Parse(c.ActorID)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: actor_id is not a valid UUID", ErrInvalidClaims)
	}
	role := models.ActorRole(c.Role)
	if role != models.RoleRider && role != models.RoleDriver {
		return models.Actor{}, fmt.Errorf("%w: unsupported role %q", ErrInvalidClaims, c.Role)
	}
	return models.Actor{ID: id, Role: role}, nil
}

// GenerateToken generates a signed token for the given actor
func GenerateToken(actorID uuid.UUID, role models.ActorRole, name string, cfg *models.Config) (string, int64, error) {
	expirationTime := time.Now().Add(time.Duration(cfg.JWT.Expiration) * time.Minute)

	claims := Claims{
		ActorID: actorID.String(),
		Role:    string(role),
		Name:    name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    cfg.JWT.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWT.Secret))
	if err != nil {
		return "", 0, err
	}

	return tokenString, expirationTime.Unix(), nil
}

// ValidateToken validates a token and returns its claims
func ValidateToken(tokenString string, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidClaims
	}

	return claims, nil
}
