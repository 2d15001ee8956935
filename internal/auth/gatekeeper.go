package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/xo-arena/internal/core"
)

var (
	ErrNotPvP         = errors.New("auth: game is not player-vs-player")
	ErrGameNotActive  = errors.New("auth: game is not active")
	ErrNotParticipant = errors.New("auth: caller is not a participant")
)

// GameLoader resolves games for admission.
type GameLoader interface {
	GameByID(ctx context.Context, id core.GameID) (*core.Game, error)
}

// Directory records authenticated players.
type Directory interface {
	TouchPlayer(ctx context.Context, id core.PlayerID, username string) error
}

// Admission is a caller allowed onto a live game connection.
type Admission struct {
	Identity
	Game *core.Game
}

// Gatekeeper authenticates callers and admits live game connections.
type Gatekeeper struct {
	validator  *Validator
	games      GameLoader
	players    Directory // Optional, can be nil
	queryParam string
	logger     *log.Logger
}

// NewGatekeeper creates a gatekeeper.
func NewGatekeeper(v *Validator, games GameLoader, players Directory) *Gatekeeper {
	return &Gatekeeper{
		validator:  v,
		games:      games,
		players:    players,
		queryParam: DefaultQueryParam,
		logger:     log.Default(),
	}
}

// SetQueryParam sets the query parameter that may carry the token when no
// Authorization header is sent.
func (g *Gatekeeper) SetQueryParam(name string) {
	if name != "" {
		g.queryParam = name
	}
}

// SetLogger replaces the default logger.
func (g *Gatekeeper) SetLogger(l *log.Logger) {
	g.logger = l
}

// Authenticate resolves the caller of r.
func (g *Gatekeeper) Authenticate(r *http.Request) (Identity, error) {
	id, err := g.validator.Validate(TokenFromRequest(r, g.queryParam))
	if err != nil {
		return Identity{}, err
	}
	if g.players != nil {
		if err := g.players.TouchPlayer(r.Context(), id.PlayerID, id.Username); err != nil {
			g.logger.Warn("cannot record player", "player", id.PlayerID, "err", err)
		}
	}
	return id, nil
}

// Admit decides whether the caller of r may open a live connection to
// gameID: the game must be PvP, waiting or in progress, and the caller one of
// its two players.
func (g *Gatekeeper) Admit(ctx context.Context, r *http.Request, gameID core.GameID) (*Admission, error) {
	id, err := g.Authenticate(r)
	if err != nil {
		return nil, err
	}

	game, err := g.games.GameByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.Mode != core.ModePvP {
		return nil, ErrNotPvP
	}
	if !game.Status.IsActive() {
		return nil, ErrGameNotActive
	}
	if !game.IsParticipant(id.PlayerID) {
		return nil, ErrNotParticipant
	}
	return &Admission{Identity: id, Game: game}, nil
}

// StatusCode maps an admission error to the HTTP status of the refused
// handshake.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrGameNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotPvP), errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrGameNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the caller stored by Middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects unauthenticated requests and stores the caller in the
// request context.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
