package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/a-h/respond"
)

// Keys maps API keys to user names.
type Keys map[string]string

// LoadFromFile reads a JSON object of API keys to user names.
func LoadFromFile(name string) (keys Keys, err error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to open API keys file: %w", err)
	}
	defer f.Close()
	keys = make(Keys)
	if err = json.NewDecoder(f).Decode(&keys); err != nil {
		return nil, fmt.Errorf("auth: failed to decode API keys file: %w", err)
	}
	for key, user := range keys {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("auth: API key for user %q is empty", user)
		}
	}
	return keys, nil
}

func New(log *slog.Logger, keys Keys, next http.Handler) *Auth {
	return &Auth{
		log:  log,
		next: next,
		keys: keys,
	}
}

type Auth struct {
	log  *slog.Logger
	next http.Handler
	keys Keys
}

type userContextKey int

const userKey userContextKey = 0

func GetUser(r *http.Request) (user string, ok bool) {
	user, ok = r.Context().Value(userKey).(string)
	return
}

func (a *Auth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	user, ok := a.keys[key]
	if key == "" || !ok {
		a.log.Warn("unauthorized request", slog.String("path", r.URL.Path), slog.String("remoteAddr", r.RemoteAddr))
		respond.WithError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), userKey, user))
	a.next.ServeHTTP(w, r)
}
