package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// TokenIssuer signs and verifies the opaque bearer tokens carrying the
// operator identity.
type TokenIssuer struct {
	secret    []byte
	expiresIn time.Duration
}

// NewTokenIssuer constructs a TokenIssuer with an HS256 secret.
func NewTokenIssuer(secret string, expiresIn time.Duration) *TokenIssuer {
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), expiresIn: expiresIn}
}

type actorClaims struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue signs a token for the actor.
func (t *TokenIssuer) Issue(actor domain.Actor) (string, error) {
	now := time.Now().UTC()
	claims := actorClaims{
		ID:    actor.ID,
		Email: actor.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiresIn)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("op=auth.issue: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the actor it carries.
func (t *TokenIssuer) Verify(token string) (domain.Actor, error) {
	var claims actorClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Actor{}, fmt.Errorf("op=auth.verify: %w", domain.ErrUnauthorized)
	}
	return domain.Actor{ID: claims.ID, Email: claims.Email}, nil
}

type actorKey struct{}

// ActorFrom returns the authenticated actor stored by RequireAuth.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

// RequireAuth rejects requests without a valid bearer token and stores the
// actor in the request context.
func (t *TokenIssuer) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, r, fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized), nil)
			return
		}
		actor, err := t.Verify(token)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
