package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	keyrail "github.com/keyrail/keyrail"
)

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

// WriteError writes the JSON error envelope {ok:false, error:{code,message}}
// with the engine's stable numeric code.
func WriteError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorBody{
			Code:    keyrail.ErrorCode(err),
			Message: err.Error(),
		},
	})
}

// WriteJSON writes a success envelope: the payload's own fields at the top
// level with ok:true folded in. The payload must marshal to a JSON object;
// a nil payload produces the bare {"ok":true}.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	body := map[string]any{}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			_ = json.Unmarshal(raw, &body)
		}
	}
	body["ok"] = true

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// SetSessionCookie writes the session cookie for an issued pair, aligning
// the cookie lifetime with the credential's.
func SetSessionCookie(w http.ResponseWriter, cfg keyrail.CookieConfig, pair *keyrail.SessionPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName(cfg),
		Value:    pair.AccessCredential,
		Domain:   cfg.Domain,
		Path:     cookiePath(cfg),
		Expires:  pair.ExpiresAt,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, cfg keyrail.CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName(cfg),
		Value:    "",
		Domain:   cfg.Domain,
		Path:     cookiePath(cfg),
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieName(cfg keyrail.CookieConfig) string {
	if cfg.Name == "" {
		return "session"
	}
	return cfg.Name
}

func cookiePath(cfg keyrail.CookieConfig) string {
	if cfg.Path == "" {
		return "/"
	}
	return cfg.Path
}
