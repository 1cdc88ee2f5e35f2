package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/HMasataka/partyline/pkg/domain"
	apperrors "github.com/HMasataka/partyline/pkg/errors"
	"github.com/HMasataka/partyline/pkg/upstream"
)

const maxChatBody = 1 << 20

// Completer produces a reply for a single user message
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

// ChatHandler serves POST /api/chat. Callers only ever see the reply or the
// fixed failure text; details go to the logs.
type ChatHandler struct {
	chat Completer
	bus  eventbus.Publisher
	errs *errorWriter
}

// NewChatHandler creates a chat handler
func NewChatHandler(chat Completer, bus eventbus.Publisher, errs *errorWriter) *ChatHandler {
	return &ChatHandler{chat: chat, bus: bus, errs: errs}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		h.errs.write(w, r,
			apperrors.Wrap(err, apperrors.ErrorTypeValidation, "INVALID_CHAT_REQUEST", "invalid chat request body"),
			domain.ChatReply{Reply: domain.ChatFailureReply},
		)
		return
	}

	reply, err := h.chat.Complete(r.Context(), req.Message)
	if err != nil {
		kind := failureKind(err)
		h.bus.PublishAsync(eventbus.NewEvent(eventbus.EventUpstreamFailed, "chat", eventbus.FailureData{Kind: kind, Err: err}))

		errType := apperrors.ErrorTypeUpstream
		if kind == "canceled" {
			errType = apperrors.ErrorTypeTimeout
		}
		appErr := apperrors.Wrap(err, errType, "CHAT_FAILED", "chat completion failed").WithDetails(kind)

		h.errs.writeStatus(w, r, appErr, http.StatusInternalServerError,
			domain.ChatReply{Reply: domain.ChatFailureReply})
		return
	}

	writeJSON(w, http.StatusOK, domain.ChatReply{Reply: reply})
}

func failureKind(err error) string {
	var statusErr *upstream.StatusError

	switch {
	case errors.Is(err, upstream.ErrRetryExhausted):
		return "exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, upstream.ErrEmptyChoices):
		return "decode"
	default:
		return "transport"
	}
}
