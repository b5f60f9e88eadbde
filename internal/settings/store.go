// Package settings persists the client's identity, room and server overrides
// in a local SQLite database.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hakushi/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Keys of the settings table.
const (
	KeyUserID     = "userId"
	KeyUserName   = "userName"
	KeyRoom       = "chatRoom"
	KeyPartyWSURL = "partyWSURL"
	KeyAPIBaseURL = "apiBaseURL"
)

// DefaultUserName is used until the user picks a name.
const DefaultUserName = "User"

// SQLiteStore implements domain.SettingsStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.SettingsStore = (*SQLiteStore)(nil)

// Open opens (creating if needed) the settings database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load reads the persisted settings. A missing user ID or room is generated
// and written back so later runs see the same values.
func (s *SQLiteStore) Load(ctx context.Context) (domain.Settings, error) {
	values, err := s.all(ctx)
	if err != nil {
		return domain.Settings{}, err
	}

	st := domain.Settings{
		UserID:   values[KeyUserID],
		UserName: values[KeyUserName],
		Room:     values[KeyRoom],
		WSBase:   values[KeyPartyWSURL],
		APIBase:  values[KeyAPIBaseURL],
	}
	if st.UserID == "" {
		st.UserID = uuid.NewString()
		if err := s.set(ctx, KeyUserID, st.UserID); err != nil {
			return domain.Settings{}, err
		}
		s.logger.Info("generated user id", "userId", st.UserID)
	}
	if st.UserName == "" {
		st.UserName = DefaultUserName
	}
	if st.Room == "" {
		st.Room = NewRoomID()
		if err := s.SetRoom(ctx, st.Room); err != nil {
			return domain.Settings{}, err
		}
	}
	return st, nil
}

// SetUserName persists the display name.
func (s *SQLiteStore) SetUserName(ctx context.Context, name string) error {
	return s.set(ctx, KeyUserName, name)
}

// SetRoom persists the current room and records it as recently joined.
func (s *SQLiteStore) SetRoom(ctx context.Context, room string) error {
	if err := s.set(ctx, KeyRoom, room); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recent_rooms (room, joined_at) VALUES (?, ?)
		 ON CONFLICT(room) DO UPDATE SET joined_at = excluded.joined_at`,
		room, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record recent room: %w", err)
	}
	return nil
}

// SetServer persists server overrides. Empty values clear the override.
func (s *SQLiteStore) SetServer(ctx context.Context, wsBase, apiBase string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range map[string]string{KeyPartyWSURL: wsBase, KeyAPIBaseURL: apiBase} {
		if value == "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
				return fmt.Errorf("clear %s: %w", key, err)
			}
			continue
		}
		if err := upsert(ctx, tx, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentRooms returns up to limit rooms, most recently joined first.
func (s *SQLiteStore) RecentRooms(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT room FROM recent_rooms ORDER BY joined_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Get returns a single raw value.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) all(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

func (s *SQLiteStore) set(ctx context.Context, key, value string) error {
	return upsert(ctx, s.db, key, value)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// NewRoomID returns a fresh 8 character room identifier.
func NewRoomID() string {
	return domain.ShortRoomID(uuid.NewString())
}
