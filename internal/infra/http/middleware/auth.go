package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/xavierca1/lead-market/internal/usecase"
)

type adminToken struct {
	token []byte
	actor usecase.Actor
}

// AdminTokens maps bearer tokens to actors.
type AdminTokens struct {
	entries []adminToken
}

// ParseAdminTokens reads a comma separated list of token:email:role triples.
func ParseAdminTokens(raw string) (*AdminTokens, error) {
	out := &AdminTokens{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("admin token entry %q: want token:email:role", redact(item))
		}
		role := usecase.Role(strings.ToLower(strings.TrimSpace(parts[2])))
		if role != usecase.RoleAdmin && role != usecase.RoleCustomer {
			return nil, fmt.Errorf("admin token for %s: unknown role %q", parts[1], parts[2])
		}
		out.entries = append(out.entries, adminToken{
			token: []byte(parts[0]),
			actor: usecase.Actor{ID: parts[1], Email: parts[1], Role: role},
		})
	}
	return out, nil
}

func (t *AdminTokens) Len() int {
	return len(t.entries)
}

// Lookup compares against every entry so timing does not reveal which one
// matched.
func (t *AdminTokens) Lookup(token string) (*usecase.Actor, bool) {
	var found *usecase.Actor
	candidate := []byte(token)
	for i := range t.entries {
		if subtle.ConstantTimeCompare(t.entries[i].token, candidate) == 1 {
			a := t.entries[i].actor
			found = &a
		}
	}
	return found, found != nil
}

// Authenticate attaches the actor for a known bearer token. Requests without
// one pass through unauthenticated and the use case decides.
func Authenticate(tokens *AdminTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if ok && tokens != nil {
				if actor, found := tokens.Lookup(strings.TrimSpace(token)); found {
					r = r.WithContext(usecase.WithActor(r.Context(), actor))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func redact(entry string) string {
	if i := strings.Index(entry, ":"); i > 0 {
		return "***" + entry[i:]
	}
	return "***"
}
