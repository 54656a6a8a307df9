package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionAuthenticator admits browser requests. Credential storage and the
// sign-in flow live in an external auth service; this service only needs to
// answer "who is this session".
//
// Two paths, tried in order:
//  1. Local verification of a session JWT minted by the auth service
//     (HS256 shared secret). Cheap, no network hop.
//  2. Remote introspection of the opaque session cookie against the auth
//     service's get-session endpoint.
type SessionAuthenticator struct {
	authServiceURL string
	jwtSecret      []byte

	http *http.Client
}

var ErrUnauthorized = errors.New("auth: unauthorized")

const introspectTimeout = 2 * time.Second

func NewSessionAuthenticator(authServiceURL, jwtSecret string) *SessionAuthenticator {
	return &SessionAuthenticator{
		authServiceURL: strings.TrimRight(authServiceURL, "/"),
		jwtSecret:      []byte(jwtSecret),
		http:           &http.Client{Timeout: introspectTimeout},
	}
}

// WithHTTPClient swaps the introspection client (tests).
func (a *SessionAuthenticator) WithHTTPClient(h *http.Client) *SessionAuthenticator {
	a.http = h
	return a
}

// Authenticate resolves the request's session to an Identity.
// Returns ErrUnauthorized for anything short of a positive answer.
func (a *SessionAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	if len(a.jwtSecret) > 0 {
		if id, err := a.verifyJWT(r); err == nil {
			return id, nil
		}
		// An invalid bearer falls through to cookie introspection; the
		// browser normally carries the opaque cookie, not the JWT.
	}
	if a.authServiceURL == "" {
		return Identity{}, ErrUnauthorized
	}
	return a.introspect(r)
}

type sessionClaims struct {
	jwt.RegisteredClaims

	Email string `json:"email"`
}

func (a *SessionAuthenticator) verifyJWT(r *http.Request) (Identity, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return Identity{}, ErrUnauthorized
	}

	var claims sessionClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	_, err := parser.ParseWithClaims(strings.TrimPrefix(raw, prefix), &claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	if claims.Subject == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

type sessionEnvelope struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (a *SessionAuthenticator) introspect(r *http.Request) (Identity, error) {
	cookie := r.Header.Get("Cookie")
	if cookie == "" {
		return Identity{}, ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(r.Context(), introspectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.authServiceURL+"/api/auth/get-session", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: build introspection request: %w", err)
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Identity{}, ErrUnauthorized
	}

	var env sessionEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env); err != nil {
		return Identity{}, ErrUnauthorized
	}
	if env.User.ID == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: env.User.ID, Email: env.User.Email}, nil
}
