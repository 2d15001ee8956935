// Package auth validates bearer credentials and decides which connections
// may join a live game.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/vovakirdan/xo-arena/internal/core"
)

var (
	ErrMissingCredential = errors.New("auth: missing credential")
	ErrInvalidCredential = errors.New("auth: invalid or expired credential")
)

// DefaultQueryParam carries the token when headers cannot be set, as with
// browser WebSocket clients.
const DefaultQueryParam = "token"

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	PlayerID string `json:"player_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Identity is an authenticated caller.
type Identity struct {
	PlayerID core.PlayerID
	Username string
}

// Validator checks HMAC-signed tokens.
type Validator struct {
	secret []byte
	now    func() time.Time
}

// NewValidator creates a validator for tokens signed with secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret), now: time.Now}
}

// Validate parses token and returns the caller it names. The player id is
// the player_id claim, or the subject when that is absent.
func (v *Validator) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingCredential
	}

	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKey
		}
		return v.secret, nil
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, keyFunc)
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidCredential
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return Identity{}, ErrInvalidCredential
	}

	id := claims.PlayerID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{PlayerID: core.PlayerID(id), Username: claims.Username}, nil
}

// Issue signs a token for player valid for ttl.
func (v *Validator) Issue(player core.PlayerID, username string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(player),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PlayerID: string(player),
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: cannot sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the query parameter.
func TokenFromRequest(r *http.Request, queryParam string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if queryParam == "" {
		return ""
	}
	return r.URL.Query().Get(queryParam)
}
