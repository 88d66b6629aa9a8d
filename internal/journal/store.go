// Package journal records agent deliveries in a local SQLite database.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/beaconctl/internal/plugins/beacon"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const FileName = "deliveries.db"

// Store is a beacon.Sink that remembers every command ID it has recorded.
type Store struct {
	db *sql.DB
}

var (
	_ beacon.Sink        = (*Store)(nil)
	_ beacon.SeenChecker = (*Store)(nil)
)

// Open creates dataDir if needed and opens the journal inside it.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create data directory: %w", err)
	}
	path := filepath.Join(dataDir, FileName)
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	log.Debug().Str("path", path).Msg("journal.Open")
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		server TEXT NOT NULL,
		idx INTEGER NOT NULL,
		command TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_received ON deliveries(received_at);
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Deliver records d. A repeated ID is ignored.
func (s *Store) Deliver(d beacon.Delivery) error {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO deliveries (id, target, server, idx, command, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Target, d.Server, int64(d.Index), d.Command, d.ReceivedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debug().Str("id", d.ID).Msg("journal.Store.Deliver duplicate")
	}
	return nil
}

func (s *Store) Seen(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM deliveries WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("journal: lookup %s: %w", id, err)
	}
	return n > 0, nil
}

// Recent returns up to limit deliveries, newest first.
func (s *Store) Recent(limit int) ([]beacon.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, target, server, idx, command, received_at
		FROM deliveries ORDER BY received_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	out := make([]beacon.Delivery, 0)
	for rows.Next() {
		var (
			d        beacon.Delivery
			idx      int64
			received int64
		)
		if err := rows.Scan(&d.ID, &d.Target, &d.Server, &idx, &d.Command, &received); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		d.Index = uint32(idx)
		d.ReceivedAt = time.Unix(0, received).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM deliveries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}
