package server

import (
	"encoding/json"
	"net/http"

	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/HMasataka/partyline/internal/logging"
	apperrors "github.com/HMasataka/partyline/pkg/errors"
)

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorWriter logs a failed request, publishes it, and writes body
type errorWriter struct {
	handler apperrors.Handler
	bus     eventbus.Publisher
}

func newErrorWriter(logger *logging.Logger, bus eventbus.Publisher) *errorWriter {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &errorWriter{
		handler: apperrors.NewDefaultHandler(logger.Logger),
		bus:     bus,
	}
}

// write uses the status that matches the error type
func (e *errorWriter) write(w http.ResponseWriter, r *http.Request, err error, body any) {
	appErr := apperrors.As(err)
	e.writeStatus(w, r, appErr, appErr.HTTPStatus(), body)
}

func (e *errorWriter) writeStatus(w http.ResponseWriter, r *http.Request, err error, status int, body any) {
	appErr := apperrors.As(err)

	logger := logging.FromContext(r.Context())
	e.handler.HandleWithLogger(r.Context(), appErr, logger.Logger)

	e.bus.PublishAsync(eventbus.NewEvent(eventbus.EventHTTPError, "http", nil).
		WithMetadata("type", apperrors.TypeName(appErr.Type)).
		WithMetadata("code", appErr.Code).
		WithMetadata("path", r.URL.Path))

	writeJSON(w, status, body)
}

// message writes {"message": <the error's message>}
func (e *errorWriter) message(w http.ResponseWriter, r *http.Request, err *apperrors.Error) {
	e.write(w, r, err, messageResponse{Message: err.Message})
}
