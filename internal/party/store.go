// Package party persists party listings behind a driver-agnostic Store.
package party

import (
	"context"
	"fmt"

	"github.com/HMasataka/partyline/internal/config"
	"github.com/HMasataka/partyline/pkg/domain"
	"github.com/jonboulle/clockwork"
)

// Store persists parties. Listings are returned in creation order.
type Store interface {
	List(ctx context.Context) ([]domain.Party, error)
	ListByEmail(ctx context.Context, email string) ([]domain.Party, error)
	Create(ctx context.Context, in domain.PartyInput) (domain.Party, error)

	// Update returns domain.ErrPartyNotFound for an unknown id
	Update(ctx context.Context, id string, in domain.PartyInput) (domain.Party, error)

	// Delete removes the party. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver
func Open(ctx context.Context, cfg config.StoreConfig, clock clockwork.Clock) (Store, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory:
		return NewMemoryStore(clock), nil
	case config.StoreDriverSQLite:
		return OpenSQLite(ctx, cfg.DSN, clock)
	case config.StoreDriverRedis:
		return OpenRedis(ctx, cfg.DSN, clock)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func newParty(id string, in domain.PartyInput, clock clockwork.Clock) domain.Party {
	now := clock.Now().UTC()
	p := domain.Party{
		ID:        id,
		Email:     in.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.Apply(&p)
	return p
}
