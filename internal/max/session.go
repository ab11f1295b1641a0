package max

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sessionDBName = "session.db"

// Session is the persisted identity of one MAX account on this machine.
type Session struct {
	Phone    string
	DeviceID string
	Token    string // empty until login succeeds
}

// SessionStore keeps device ids and login tokens in SQLite under the work dir.
type SessionStore struct {
	db *sql.DB
}

// OpenSessionStore opens (creating if needed) <workDir>/session.db.
func OpenSessionStore(workDir string) (*SessionStore, error) {
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create work directory %s: %w", workDir, err)
	}

	dbPath := filepath.Join(workDir, sessionDBName)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open session database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SessionStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session database migration failed: %w", err)
	}
	return s, nil
}

func (s *SessionStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS session (
		phone      TEXT PRIMARY KEY,
		device_id  TEXT NOT NULL,
		token      TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

// Load returns the session for phone, creating one with a fresh device id on
// first use.
func (s *SessionStore) Load(ctx context.Context, phone string) (Session, error) {
	sess := Session{Phone: phone}
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, token FROM session WHERE phone = ?`, phone,
	).Scan(&sess.DeviceID, &sess.Token)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("load session: %w", err)
	}

	sess.DeviceID = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO session (phone, device_id, token, updated_at) VALUES (?, ?, '', ?)`,
		phone, sess.DeviceID, time.Now(),
	); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// SaveToken stores the login token for phone. The session row must exist.
func (s *SessionStore) SaveToken(ctx context.Context, phone, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE session SET token = ?, updated_at = ? WHERE phone = ?`, token, time.Now(), phone)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save token: no session for %s", phone)
	}
	return nil
}

// ClearToken forgets the login token but keeps the device id.
func (s *SessionStore) ClearToken(ctx context.Context, phone string) error {
	return s.SaveToken(ctx, phone, "")
}

// Ping checks that the database is usable.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}
