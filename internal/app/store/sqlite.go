package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// SQLite keeps membership in one table shared by every directory instance
// that opens the same file. A row is both the forward and the reverse entry
// for its url, so the two indexes cannot drift apart.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the membership database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps the pragmas applied and serializes in-process writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS members (
			url  TEXT PRIMARY KEY,
			room TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS members_room ON members(room)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Join(ctx context.Context, url domain.PeerURL, room domain.RoomName) (domain.RoomName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT room FROM members WHERE url = ?`, string(url)).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO members (url, room) VALUES (?, ?)
		 ON CONFLICT(url) DO UPDATE SET room = excluded.room`,
		string(url), string(room)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	log.Debug().Str("module", "store.sqlite").Str("url", string(url)).Str("room", string(room)).Msg("member added")
	return domain.RoomName(prev), nil
}

func (s *SQLite) Leave(ctx context.Context, url domain.PeerURL) (domain.RoomName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var room string
	err := s.db.QueryRowContext(ctx, `DELETE FROM members WHERE url = ? RETURNING room`, string(url)).Scan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	log.Debug().Str("module", "store.sqlite").Str("url", string(url)).Str("room", room).Msg("member removed")
	return domain.RoomName(room), nil
}

func (s *SQLite) RoomOf(ctx context.Context, url domain.PeerURL) (domain.RoomName, bool, error) {
	var room string
	err := s.db.QueryRowContext(ctx, `SELECT room FROM members WHERE url = ?`, string(url)).Scan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.RoomName(room), true, nil
}

func (s *SQLite) Members(ctx context.Context, room domain.RoomName) ([]domain.PeerURL, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM members WHERE room = ? ORDER BY url`, string(room))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.PeerURL{}
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		out = append(out, domain.PeerURL(url))
	}
	return out, rows.Err()
}

func (s *SQLite) Rooms(ctx context.Context) ([]core.RoomInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room, COUNT(*) FROM members GROUP BY room ORDER BY room`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.RoomInfo{}
	for rows.Next() {
		var info core.RoomInfo
		var name string
		if err := rows.Scan(&name, &info.MemberCount); err != nil {
			return nil, err
		}
		info.Name = domain.RoomName(name)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
