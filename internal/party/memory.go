package party

import (
	"context"
	"sync"

	"github.com/HMasataka/partyline/pkg/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemoryStore keeps parties in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	parties map[string]domain.Party
	clock   clockwork.Clock
}

// NewMemoryStore creates an empty store
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &MemoryStore{
		parties: make(map[string]domain.Party),
		clock:   clock,
	}
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.Party, error) {
	return s.filter(func(domain.Party) bool { return true }), nil
}

func (s *MemoryStore) ListByEmail(ctx context.Context, email string) ([]domain.Party, error) {
	return s.filter(func(p domain.Party) bool { return p.Email == email }), nil
}

func (s *MemoryStore) filter(keep func(domain.Party) bool) []domain.Party {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Party, 0, len(s.order))
	for _, id := range s.order {
		if p := s.parties[id]; keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *MemoryStore) Create(ctx context.Context, in domain.PartyInput) (domain.Party, error) {
	p := newParty(uuid.NewString(), in, s.clock)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.parties[p.ID] = p
	s.order = append(s.order, p.ID)
	return p, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, in domain.PartyInput) (domain.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parties[id]
	if !ok {
		return domain.Party{}, domain.ErrPartyNotFound
	}

	in.Apply(&p)
	p.UpdatedAt = s.clock.Now().UTC()
	s.parties[id] = p
	return p, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parties[id]; !ok {
		return nil
	}

	delete(s.parties, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
