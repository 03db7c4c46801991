// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Version-guarded presence upserts, idempotent history rows and automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets dashboard reads proceed while transitions are written
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS presence (
			identity TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			team TEXT,
			status TEXT NOT NULL,
			is_online INTEGER NOT NULL DEFAULT 0,
			connection_id TEXT,
			changed_at TEXT NOT NULL,
			version INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS status_history (
			identity TEXT NOT NULL,
			version INTEGER NOT NULL,
			kind TEXT NOT NULL,
			previous_status TEXT,
			status TEXT NOT NULL,
			channel TEXT NOT NULL,
			connection_id TEXT,
			changed_at TEXT NOT NULL,
			PRIMARY KEY (identity, version)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			recipient TEXT,
			kind TEXT NOT NULL,
			priority TEXT NOT NULL,
			content TEXT NOT NULL,
			html TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

		CREATE TABLE IF NOT EXISTS dashboard_history (
			id TEXT PRIMARY KEY,
			total INTEGER NOT NULL,
			online INTEGER NOT NULL,
			offline INTEGER NOT NULL,
			per_status TEXT NOT NULL,
			per_team TEXT NOT NULL,
			team_online TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_dashboard_history_created ON dashboard_history(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "team",
			apply:  `ALTER TABLE messages ADD COLUMN team TEXT`,
		},
		{
			table:  "dashboard_history",
			column: "team_online",
			apply:  `ALTER TABLE dashboard_history ADD COLUMN team_online TEXT NOT NULL DEFAULT '{}'`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := `SELECT 1 FROM pragma_table_info('` + m.table + `') WHERE name = ?`
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadPresence returns the stored record for identity.
func (s *SQLiteStore) LoadPresence(ctx context.Context, identity presence.Identity) (presence.Record, bool, error) {
	query := `
		SELECT identity, role, team, status, is_online, connection_id, changed_at, version
		FROM presence
		WHERE identity = ?
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, string(identity)))
	if errors.Is(err, sql.ErrNoRows) {
		return presence.Record{}, false, nil
	}
	if err != nil {
		return presence.Record{}, false, fmt.Errorf("querying presence: %w", err)
	}
	return rec, true, nil
}

// ListPresence returns every stored record ordered by identity.
func (s *SQLiteStore) ListPresence(ctx context.Context) ([]presence.Record, error) {
	query := `
		SELECT identity, role, team, status, is_online, connection_id, changed_at, version
		FROM presence
		ORDER BY identity
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying presence: %w", err)
	}
	defer rows.Close()

	var recs []presence.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning presence row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presence rows: %w", err)
	}
	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (presence.Record, error) {
	var rec presence.Record
	var identity, role, status, changedAt string
	var team, connID sql.NullString
	var online int
	var version int64

	if err := row.Scan(&identity, &role, &team, &status, &online, &connID, &changedAt, &version); err != nil {
		return presence.Record{}, err
	}

	t, err := parseTime(changedAt)
	if err != nil {
		return presence.Record{}, fmt.Errorf("parsing changed_at: %w", err)
	}

	rec.Identity = presence.Identity(identity)
	rec.Role = presence.Role(role)
	rec.Team = team.String
	rec.Status = presence.Status(status)
	rec.Online = online != 0
	rec.ConnectionID = presence.ConnectionID(connID.String)
	rec.ChangedAt = t
	rec.Version = uint64(version)
	return rec, nil
}

// SavePresence upserts rec. A row already at or beyond rec.Version is left
// untouched, so replays and late retries are no-ops.
func (s *SQLiteStore) SavePresence(ctx context.Context, rec presence.Record) error {
	query := `
		INSERT INTO presence (identity, role, team, status, is_online, connection_id, changed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			role = excluded.role,
			team = excluded.team,
			status = excluded.status,
			is_online = excluded.is_online,
			connection_id = excluded.connection_id,
			changed_at = excluded.changed_at,
			version = excluded.version
		WHERE excluded.version > presence.version
	`

	online := 0
	if rec.Online {
		online = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		string(rec.Identity),
		string(rec.Role),
		nullString(rec.Team),
		string(rec.Status),
		online,
		nullString(string(rec.ConnectionID)),
		formatTime(rec.ChangedAt),
		int64(rec.Version),
	)
	if err != nil {
		return fmt.Errorf("upserting presence: %w", err)
	}

	s.logger.Debug("saved presence", "identity", rec.Identity, "version", rec.Version)
	return nil
}

// AppendStatusHistory records ev. A row for the same (identity, version) is kept as is.
func (s *SQLiteStore) AppendStatusHistory(ctx context.Context, identity presence.Identity, ev presence.Event) error {
	query := `
		INSERT OR IGNORE INTO status_history (identity, version, kind, previous_status, status, channel, connection_id, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(identity),
		int64(ev.Version),
		string(ev.Kind),
		nullString(string(ev.Previous)),
		string(ev.Status),
		string(ev.Channel),
		nullString(string(ev.ConnectionID)),
		formatTime(ev.At),
	)
	if err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}
	return nil
}

// ListStatusHistory returns up to limit transitions of identity, newest first.
// If limit is 0 or negative, all transitions are returned.
func (s *SQLiteStore) ListStatusHistory(ctx context.Context, identity presence.Identity, limit int) ([]*StatusHistoryEntry, error) {
	query := `
		SELECT identity, version, kind, previous_status, status, channel, connection_id, changed_at
		FROM status_history
		WHERE identity = ?
		ORDER BY version DESC
	`
	args := []any{string(identity)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying status history: %w", err)
	}
	defer rows.Close()

	var entries []*StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		var id, kind, status, channel, changedAt string
		var prev, connID sql.NullString
		var version int64

		if err := rows.Scan(&id, &version, &kind, &prev, &status, &channel, &connID, &changedAt); err != nil {
			return nil, fmt.Errorf("scanning status history row: %w", err)
		}
		e.ChangedAt, err = parseTime(changedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing changed_at: %w", err)
		}
		e.Identity = presence.Identity(id)
		e.Version = uint64(version)
		e.Kind = presence.EventKind(kind)
		e.Previous = presence.Status(prev.String)
		e.Status = presence.Status(status)
		e.Channel = presence.Channel(channel)
		e.ConnectionID = presence.ConnectionID(connID.String)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history rows: %w", err)
	}
	return entries, nil
}

// SaveMessage saves a supervisor message. An empty ID is filled in.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	query := `
		INSERT INTO messages (id, sender, recipient, team, kind, priority, content, html, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		string(msg.From),
		nullString(string(msg.To)),
		nullString(msg.Team),
		msg.Kind,
		msg.Priority,
		msg.Content,
		msg.HTML,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "kind", msg.Kind, "to", msg.To)
	return nil
}

// ListMessages returns messages visible to identity, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, identity presence.Identity, team string, limit int) ([]*Message, error) {
	query := `
		SELECT id, sender, recipient, team, kind, priority, content, html, created_at
		FROM messages
	`
	var args []any
	if identity != "" {
		query += `
		WHERE recipient = ?
		   OR (kind = 'broadcast' AND (team IS NULL OR team = ?))
		`
		args = append(args, string(identity), team)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var from, createdAt string
		var to, msgTeam sql.NullString

		if err := rows.Scan(&msg.ID, &from, &to, &msgTeam, &msg.Kind, &msg.Priority, &msg.Content, &msg.HTML, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		msg.From = presence.Identity(from)
		msg.To = presence.Identity(to.String)
		msg.Team = msgTeam.String
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// SaveDashboardSnapshot records a dashboard summary. An empty ID is filled in.
func (s *SQLiteStore) SaveDashboardSnapshot(ctx context.Context, snap *DashboardSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	perStatus, err := json.Marshal(snap.PerStatus)
	if err != nil {
		return fmt.Errorf("encoding per_status: %w", err)
	}
	perTeam, err := json.Marshal(snap.PerTeam)
	if err != nil {
		return fmt.Errorf("encoding per_team: %w", err)
	}
	teamOnline, err := json.Marshal(snap.TeamOnline)
	if err != nil {
		return fmt.Errorf("encoding team_online: %w", err)
	}

	query := `
		INSERT INTO dashboard_history (id, total, online, offline, per_status, per_team, team_online, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		snap.ID,
		snap.Total,
		snap.Online,
		snap.Offline,
		string(perStatus),
		string(perTeam),
		string(teamOnline),
		formatTime(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting dashboard snapshot: %w", err)
	}
	return nil
}

// ListDashboardSnapshots returns up to limit summaries, newest first.
func (s *SQLiteStore) ListDashboardSnapshots(ctx context.Context, limit int) ([]*DashboardSnapshot, error) {
	query := `
		SELECT id, total, online, offline, per_status, per_team, team_online, created_at
		FROM dashboard_history
		ORDER BY created_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dashboard history: %w", err)
	}
	defer rows.Close()

	var snaps []*DashboardSnapshot
	for rows.Next() {
		var snap DashboardSnapshot
		var perStatus, perTeam, teamOnline, createdAt string
		if err := rows.Scan(&snap.ID, &snap.Total, &snap.Online, &snap.Offline, &perStatus, &perTeam, &teamOnline, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning dashboard row: %w", err)
		}
		if err := json.Unmarshal([]byte(perStatus), &snap.PerStatus); err != nil {
			return nil, fmt.Errorf("decoding per_status: %w", err)
		}
		if err := json.Unmarshal([]byte(perTeam), &snap.PerTeam); err != nil {
			return nil, fmt.Errorf("decoding per_team: %w", err)
		}
		if err := json.Unmarshal([]byte(teamOnline), &snap.TeamOnline); err != nil {
			return nil, fmt.Errorf("decoding team_online: %w", err)
		}
		snap.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dashboard rows: %w", err)
	}
	return snaps, nil
}

// nullString returns nil for empty strings so they are stored as NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
