package middleware

import (
	"net/http"
	"strings"
)

// Source extracts a transportable credential from a request. Sources are
// tried in order; the first hit wins.
type Source interface {
	Credential(r *http.Request) (string, bool)
}

// BearerSource reads the Authorization header's Bearer scheme.
type BearerSource struct{}

func (BearerSource) Credential(r *http.Request) (string, bool) {
	const bearer = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	credential := value[len(bearer):]
	return credential, credential != ""
}

// CookieSource reads the named session cookie.
type CookieSource struct {
	Name string
}

func (s CookieSource) Credential(r *http.Request) (string, bool) {
	name := s.Name
	if name == "" {
		name = "session"
	}
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func credentialFrom(r *http.Request, sources []Source) (string, bool) {
	for _, source := range sources {
		if credential, ok := source.Credential(r); ok {
			return credential, true
		}
	}
	return "", false
}
