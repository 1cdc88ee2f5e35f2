package server

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/internal/party"
	"github.com/HMasataka/partyline/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParty(name, email string) domain.PartyInput {
	return domain.PartyInput{
		Name:     name,
		Date:     "2026-12-31",
		Location: "Warehouse 9",
		Poster:   "https://img.example/poster.png",
		Email:    email,
	}
}

func TestParties_CreateAndList(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/parties", jsonBody(t, validParty("NYE", "host@example.com")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Party](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "NYE", created.Name)
	assert.Equal(t, "host@example.com", created.Email)

	rec = env.do(t, http.MethodGet, "/parties", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.Party](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestParties_ListEmptyIsArray(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/parties", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestParties_CreateValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	missing := validParty("x", "")
	missing.Poster = ""
	rec := env.do(t, http.MethodPost, "/parties", jsonBody(t, missing))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"poster is required"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/parties", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"Invalid request body"}`, rec.Body.String())
}

func TestParties_ListByEmail(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, in := range []domain.PartyInput{
		validParty("a", "me@example.com"),
		validParty("b", "you@example.com"),
		validParty("c", "me@example.com"),
	} {
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/parties", jsonBody(t, in)).Code)
	}

	rec := env.do(t, http.MethodGet, "/parties/user?email=me@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]domain.Party](t, rec)
	require.Len(t, mine, 2)
	assert.Equal(t, "a", mine[0].Name)
	assert.Equal(t, "c", mine[1].Name)

	rec = env.do(t, http.MethodGet, "/parties/user", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParties_Update(t *testing.T) {
	env := newTestEnv(t, nil)

	created := decode[domain.Party](t, env.do(t, http.MethodPost, "/parties", jsonBody(t, validParty("old", "owner@example.com"))))

	change := validParty("new", "thief@example.com")
	rec := env.do(t, http.MethodPut, "/parties/"+created.ID, jsonBody(t, change))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[partyUpdatedResponse](t, rec)
	assert.Equal(t, "Party updated successfully", resp.Message)
	assert.Equal(t, created.ID, resp.Party.ID)
	assert.Equal(t, "new", resp.Party.Name)
	assert.Equal(t, "owner@example.com", resp.Party.Email)

	rec = env.do(t, http.MethodPut, "/parties/unknown", jsonBody(t, change))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Party not found"}`, rec.Body.String())

	invalid := change
	invalid.Name = ""
	rec = env.do(t, http.MethodPut, "/parties/"+created.ID, jsonBody(t, invalid))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParties_Delete(t *testing.T) {
	env := newTestEnv(t, nil)

	created := decode[domain.Party](t, env.do(t, http.MethodPost, "/parties", jsonBody(t, validParty("gone", ""))))

	rec := env.do(t, http.MethodDelete, "/parties/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Party deleted successfully"}`, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/parties/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.JSONEq(t, `[]`, env.do(t, http.MethodGet, "/parties", "").Body.String())
}

// failingStore fails every operation
type failingStore struct {
	party.Store
}

var errStoreDown = errors.New("store down")

func (failingStore) List(context.Context) ([]domain.Party, error) { return nil, errStoreDown }
func (failingStore) ListByEmail(context.Context, string) ([]domain.Party, error) {
	return nil, errStoreDown
}
func (failingStore) Create(context.Context, domain.PartyInput) (domain.Party, error) {
	return domain.Party{}, errStoreDown
}
func (failingStore) Update(context.Context, string, domain.PartyInput) (domain.Party, error) {
	return domain.Party{}, errStoreDown
}
func (failingStore) Delete(context.Context, string) error { return errStoreDown }
func (failingStore) Ping(context.Context) error            { return errStoreDown }

func TestParties_StoreFailures(t *testing.T) {
	bus := &recordingBus{}
	h := NewPartyHandler(failingStore{}, newErrorWriter(logging.Discard(), bus))

	r := chi.NewRouter()
	r.Get("/parties", h.List)
	r.Post("/parties", h.Create)
	r.Get("/parties/user", h.ListByEmail)
	r.Put("/parties/{id}", h.Update)
	r.Delete("/parties/{id}", h.Delete)
	env := &testEnv{server: &Server{router: r}}

	body := jsonBody(t, validParty("x", "me@example.com"))
	tests := []struct {
		method, path, body, want string
	}{
		{http.MethodGet, "/parties", "", "Error fetching parties"},
		{http.MethodPost, "/parties", body, "Error adding party"},
		{http.MethodGet, "/parties/user?email=me@example.com", "", "Error fetching user parties"},
		{http.MethodPut, "/parties/abc", body, "Error updating party"},
		{http.MethodDelete, "/parties/abc", "", "Error deleting party"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"message":"`+tt.want+`"}`, rec.Body.String())
		})
	}

	for _, e := range bus.ofType(eventbus.EventHTTPError) {
		assert.Equal(t, "store", e.Metadata["type"])
	}
	assert.Len(t, bus.ofType(eventbus.EventHTTPError), len(tests))
}
