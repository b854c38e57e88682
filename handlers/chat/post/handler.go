package post

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-h/chatrelay/auth"
	"github.com/a-h/chatrelay/models"
	"github.com/a-h/chatrelay/relay"
	"github.com/a-h/respond"
)

type Relayer interface {
	Relay(ctx context.Context, turns []models.ChatMessage) (models.ChatPostResponse, error)
}

func New(log *slog.Logger, relayer Relayer) Handler {
	return Handler{
		log:     log,
		relayer: relayer,
	}
}

type Handler struct {
	log     *slog.Logger
	relayer Relayer
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log
	if user, ok := auth.GetUser(r); ok {
		log = log.With(slog.String("user", user))
	}

	req, err := models.ParseChatPostRequest(r.Body)
	if err != nil {
		var ve models.ValidationError
		if errors.As(err, &ve) {
			log.Warn("invalid request", slog.Any("fields", ve.Fields))
			respond.WithJSON(w, models.ValidationErrorResponse{
				Message: "invalid request",
				Fields:  ve.Fields,
			}, http.StatusBadRequest)
			return
		}
		log.Error("failed to decode body", slog.Any("error", err))
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}

	log.Info("relaying chat", slog.Int("turns", len(req.Messages)))
	resp, err := h.relayer.Relay(r.Context(), req.Messages)
	if err != nil {
		if r.Context().Err() != nil {
			log.Warn("request cancelled", slog.Any("error", err))
			respond.WithError(w, "request cancelled", http.StatusServiceUnavailable)
			return
		}
		log.Error("failed to relay chat", slog.Any("error", err))
		var pe relay.ProviderError
		switch {
		case errors.As(err, &pe):
			respond.WithError(w, "failed to generate content", http.StatusBadGateway)
		case errors.Is(err, relay.ErrMalformedProviderResponse):
			respond.WithError(w, "provider returned no content", http.StatusBadGateway)
		default:
			respond.WithError(w, "failed to relay chat", http.StatusInternalServerError)
		}
		return
	}

	respond.WithJSON(w, resp, http.StatusOK)
}
