package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal of rooms and sessions. Drawings are never stored here; a room's
// objects live only in memory while someone is connected.
type Database struct {
	db *sql.DB
}

type Room struct {
	ID         string
	FirstSeen  time.Time
	LastActive time.Time
}

type Session struct {
	ClientID    string     `json:"client_id"`
	RoomID      string     `json:"room_id"`
	DisplayName string     `json:"display_name"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

type Stats struct {
	RoomCount      int `json:"room_count"`
	SessionCount   int `json:"session_count"`
	OpenSessions   int `json:"open_sessions"`
	DistinctPeople int `json:"distinct_display_names"`
}

func New(dbPath string) (*Database, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the join path
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		first_seen INTEGER NOT NULL,
		last_active INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		client_id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		left_at INTEGER,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_room_id ON sessions(room_id, joined_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_left_at ON sessions(left_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Times are stored as unix milliseconds

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Session operations

func (d *Database) RecordJoin(ctx context.Context, roomID, clientID, displayName string, at time.Time) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ms := toMillis(at)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, first_seen, last_active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_active = excluded.last_active
	`, roomID, ms, ms); err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO sessions (client_id, room_id, display_name, joined_at) VALUES (?, ?, ?, ?)",
		clientID, roomID, displayName, ms,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit()
}

// Marks a session as ended. Ending an unknown or already ended session is a no-op.
func (d *Database) RecordLeave(ctx context.Context, clientID string, at time.Time) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ms := toMillis(at)
	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET last_active = ?
		WHERE id = (SELECT room_id FROM sessions WHERE client_id = ? AND left_at IS NULL)
	`, ms, clientID); err != nil {
		return fmt.Errorf("touch room: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET left_at = ? WHERE client_id = ? AND left_at IS NULL",
		ms, clientID,
	); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	return tx.Commit()
}

// Ends every session still marked open. Run at startup: a previous process
// that died could not record its leaves, and no session survives a restart.
func (d *Database) CloseOpenSessions(ctx context.Context, at time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, "UPDATE sessions SET left_at = ? WHERE left_at IS NULL", toMillis(at))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *Database) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, first_seen, last_active FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	var first, last int64
	err := row.Scan(&room.ID, &first, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	room.FirstSeen = fromMillis(first)
	room.LastActive = fromMillis(last)
	return &room, nil
}

// Journaled rooms, most recently active first
func (d *Database) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, first_seen, last_active FROM rooms ORDER BY last_active DESC, id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		var first, last int64
		if err := rows.Scan(&room.ID, &first, &last); err != nil {
			return nil, err
		}
		room.FirstSeen = fromMillis(first)
		room.LastActive = fromMillis(last)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Sessions of a room, newest first
func (d *Database) ListSessions(ctx context.Context, roomID string, limit, offset int) ([]Session, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT client_id, room_id, display_name, joined_at, left_at
		FROM sessions
		WHERE room_id = ?
		ORDER BY joined_at DESC, client_id
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		var joined int64
		var left sql.NullInt64
		if err := rows.Scan(&s.ClientID, &s.RoomID, &s.DisplayName, &joined, &left); err != nil {
			return nil, err
		}
		s.JoinedAt = fromMillis(joined)
		if left.Valid {
			t := fromMillis(left.Int64)
			s.LeftAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (d *Database) GetSessionCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE room_id = ?", roomID).Scan(&count)
	return count, err
}

// Retention

// Deletes ended sessions that left before the cutoff
func (d *Database) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE left_at IS NOT NULL AND left_at < ?",
		toMillis(before),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Deletes rooms that no longer have any journaled session
func (d *Database) PruneEmptyRooms(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM rooms WHERE id NOT IN (SELECT DISTINCT room_id FROM sessions)",
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats

func (d *Database) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM rooms),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE left_at IS NULL),
			(SELECT COUNT(DISTINCT display_name) FROM sessions)
	`).Scan(&stats.RoomCount, &stats.SessionCount, &stats.OpenSessions, &stats.DistinctPeople)
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}
