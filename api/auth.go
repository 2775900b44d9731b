/*
auth.go - Caller identity from bearer tokens

PURPOSE:
  The engine trusts the caller identity it is handed. This middleware is
  where that identity comes from: an HS256 JWT whose subject is the actor
  id and whose "roles" claim lists what the actor may do.

ROLES:
  clerk       register units, create sales, plan schedules, record payments,
              open cancellations
  manager     everything a clerk does, plus approve / reject / reprogram
  accountant  record installment and commission payments
  admin       everything, including emergency delete

DEV MODE:
  With no secret configured the middleware accepts X-Actor-ID and
  X-Actor-Roles headers instead of a token. Never run it that way in
  production.

SEE ALSO:
  - server.go: which routes need which role
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/sales-engine/sales"
)

type Role string

const (
	RoleClerk      Role = "clerk"
	RoleManager    Role = "manager"
	RoleAccountant Role = "accountant"
	RoleAdmin      Role = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	Actor sales.ActorID
	Roles []Role
}

func (id Identity) Has(roles ...Role) bool {
	for _, have := range id.Roles {
		if have == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller set by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Claims is the token payload.
type Claims struct {
	Roles []Role `json:"roles"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an authenticator for HS256 tokens. An empty
// secret enables dev mode.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) DevMode() bool { return len(a.secret) == 0 }

// IssueToken signs a token for actor. Used by tests and the demo loader.
func (a *Authenticator) IssueToken(actor sales.ActorID, roles []Role, ttl time.Duration) (string, error) {
	if a.DevMode() {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(actor),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(tokenStr string) (Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("invalid or expired token")
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}
	return Identity{Actor: sales.ActorID(claims.Subject), Roles: claims.Roles}, nil
}

// Middleware authenticates every request that passes through it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.DevMode() {
			actor := r.Header.Get("X-Actor-ID")
			if actor == "" {
				writeError(w, http.StatusUnauthorized, "X-Actor-ID header required", nil)
				return
			}
			var roles []Role
			for _, s := range strings.Split(r.Header.Get("X-Actor-Roles"), ",") {
				if s = strings.TrimSpace(s); s != "" {
					roles = append(roles, Role(s))
				}
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), Identity{Actor: sales.ActorID(actor), Roles: roles})))
			return
		}

		tokenStr := bearerToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "Authorization token not provided", nil)
			return
		}
		id, err := a.parse(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// bearerToken reads the Authorization header, falling back to ?token= for
// websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// RequireRole rejects callers holding none of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
				return
			}
			if !id.Has(roles...) {
				writeError(w, http.StatusForbidden, "Permission denied", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
