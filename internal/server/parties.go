package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HMasataka/partyline/internal/party"
	"github.com/HMasataka/partyline/pkg/domain"
	apperrors "github.com/HMasataka/partyline/pkg/errors"
	"github.com/go-chi/chi/v5"
)

const maxPartyBody = 1 << 20

// PartyHandler serves the /parties routes
type PartyHandler struct {
	store party.Store
	errs  *errorWriter
}

// NewPartyHandler creates a party handler
func NewPartyHandler(store party.Store, errs *errorWriter) *PartyHandler {
	return &PartyHandler{store: store, errs: errs}
}

type partyUpdatedResponse struct {
	Message string       `json:"message"`
	Party   domain.Party `json:"party"`
}

// List handles GET /parties
func (h *PartyHandler) List(w http.ResponseWriter, r *http.Request) {
	parties, err := h.store.List(r.Context())
	if err != nil {
		h.errs.message(w, r, apperrors.Wrap(err, apperrors.ErrorTypeStore, "LIST_PARTIES", "Error fetching parties"))
		return
	}

	writeJSON(w, http.StatusOK, parties)
}

// ListByEmail handles GET /parties/user?email=
func (h *PartyHandler) ListByEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		h.errs.message(w, r, apperrors.New(apperrors.ErrorTypeValidation, "MISSING_EMAIL", "email is required"))
		return
	}

	parties, err := h.store.ListByEmail(r.Context(), email)
	if err != nil {
		h.errs.message(w, r, apperrors.Wrap(err, apperrors.ErrorTypeStore, "LIST_USER_PARTIES", "Error fetching user parties"))
		return
	}

	writeJSON(w, http.StatusOK, parties)
}

// Create handles POST /parties
func (h *PartyHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, appErr := decodePartyInput(w, r)
	if appErr != nil {
		h.errs.message(w, r, appErr)
		return
	}

	p, err := h.store.Create(r.Context(), in)
	if err != nil {
		h.errs.message(w, r, apperrors.Wrap(err, apperrors.ErrorTypeStore, "CREATE_PARTY", "Error adding party"))
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// Update handles PUT /parties/{id}
func (h *PartyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	in, appErr := decodePartyInput(w, r)
	if appErr != nil {
		h.errs.message(w, r, appErr)
		return
	}

	p, err := h.store.Update(r.Context(), id, in)
	if errors.Is(err, domain.ErrPartyNotFound) {
		h.errs.message(w, r, apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "PARTY_NOT_FOUND", "Party not found"))
		return
	}
	if err != nil {
		h.errs.message(w, r, apperrors.Wrap(err, apperrors.ErrorTypeStore, "UPDATE_PARTY", "Error updating party"))
		return
	}

	writeJSON(w, http.StatusOK, partyUpdatedResponse{Message: "Party updated successfully", Party: p})
}

// Delete handles DELETE /parties/{id}
func (h *PartyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errs.message(w, r, apperrors.Wrap(err, apperrors.ErrorTypeStore, "DELETE_PARTY", "Error deleting party"))
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Party deleted successfully"})
}

func decodePartyInput(w http.ResponseWriter, r *http.Request) (domain.PartyInput, *apperrors.Error) {
	var in domain.PartyInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPartyBody)).Decode(&in); err != nil {
		return in, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "INVALID_PARTY", "Invalid request body")
	}

	if err := in.Validate(); err != nil {
		msg := err.Error()
		var domainErr *domain.DomainError
		if errors.As(err, &domainErr) {
			msg = domainErr.Message
		}
		return in, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "INVALID_PARTY", msg)
	}

	return in, nil
}
