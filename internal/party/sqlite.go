package party

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HMasataka/partyline/pkg/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

const partyColumns = `id, name, date, location, poster, email, created_at, updated_at`

// SQLiteStore keeps parties in a SQLite database
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" keeps
// everything in memory.
func OpenSQLite(ctx context.Context, path string, clock clockwork.Clock) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite (%s): %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db, clock: clock}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.Party, error) {
	return s.query(ctx, `SELECT `+partyColumns+` FROM parties ORDER BY created_at, rowid`)
}

func (s *SQLiteStore) ListByEmail(ctx context.Context, email string) ([]domain.Party, error) {
	return s.query(ctx, `SELECT `+partyColumns+` FROM parties WHERE email = ? ORDER BY created_at, rowid`, email)
}

func (s *SQLiteStore) Create(ctx context.Context, in domain.PartyInput) (domain.Party, error) {
	p := newParty(uuid.NewString(), in, s.clock)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parties(`+partyColumns+`) VALUES(?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Date, p.Location, p.Poster, p.Email,
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return domain.Party{}, fmt.Errorf("insert party: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, in domain.PartyInput) (domain.Party, error) {
	now := s.clock.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE parties SET name = ?, date = ?, location = ?, poster = ?, updated_at = ? WHERE id = ?`,
		in.Name, in.Date, in.Location, in.Poster, now.UnixNano(), id,
	)
	if err != nil {
		return domain.Party{}, fmt.Errorf("update party: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return domain.Party{}, fmt.Errorf("update party: %w", err)
	}
	if n == 0 {
		return domain.Party{}, domain.ErrPartyNotFound
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = ?`, id)
	p, err := scanParty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Party{}, domain.ErrPartyNotFound
	}
	return p, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM parties WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete party: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]domain.Party, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query parties: %w", err)
	}
	defer rows.Close()

	parties := make([]domain.Party, 0)
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query parties: %w", err)
	}
	return parties, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParty(row scanner) (domain.Party, error) {
	var (
		p                domain.Party
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Date, &p.Location, &p.Poster, &p.Email, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Party{}, err
		}
		return domain.Party{}, fmt.Errorf("scan party: %w", err)
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}
