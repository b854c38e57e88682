package handlers

import (
	"log/slog"
	"net/http"

	"github.com/a-h/chatrelay/auth"
	chatpost "github.com/a-h/chatrelay/handlers/chat/post"
	"github.com/rs/cors"
)

// New returns the server's routes. When keys is nil, requests are not
// authenticated.
func New(log *slog.Logger, relayer chatpost.Relayer, keys auth.Keys) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /chat", chatpost.New(log, relayer))

	var h http.Handler = mux
	if keys != nil {
		h = auth.New(log, keys, h)
	}
	return cors.AllowAll().Handler(h)
}
