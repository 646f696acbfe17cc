// Package session keeps dashboard sessions in SQLite. A session owns the
// analysis state carried between reporting runs.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/analysis"
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// Session is one dashboard session.
type Session struct {
	ID        types.ID       `json:"id"`
	Owner     string         `json:"owner,omitempty"`
	State     analysis.State `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Times are stored as Unix milliseconds.
var schema = []string{`
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		owner      TEXT NOT NULL DEFAULT '',
		state      TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at)`,
}

type row struct {
	ID        string `db:"id"`
	Owner     string `db:"owner"`
	State     string `db:"state"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	ExpiresAt int64  `db:"expires_at"`
}

func (r row) session() (*Session, error) {
	s := &Session{
		ID:        types.ID(r.ID),
		Owner:     r.Owner,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
		ExpiresAt: time.UnixMilli(r.ExpiresAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.State), &s.State); err != nil {
		return nil, fmt.Errorf("decode session %s state: %w", r.ID, err)
	}
	return s, nil
}

// Store persists sessions. Each write extends the session by the TTL.
type Store struct {
	db  *sqlx.DB
	ttl time.Duration
	log zerolog.Logger
	now func() time.Time
}

// NewStore creates a store over db.
func NewStore(db *sqlx.DB, ttl time.Duration, log zerolog.Logger) *Store {
	return &Store{db: db, ttl: ttl, log: log, now: time.Now}
}

// Migrate creates the sessions table.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create sessions table: %w", err)
		}
	}
	return nil
}

// Create starts an empty session for owner.
func (s *Store) Create(ctx context.Context, owner string) (*Session, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	sess := &Session{
		ID:        types.NewID(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	state, err := json.Marshal(sess.State)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode session state")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner, state, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), owner, string(state),
		now.UnixMilli(), now.UnixMilli(), sess.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create session")
	}
	s.log.Debug().Str("session_id", sess.ID.String()).Str("owner", owner).Msg("session created")
	return sess, nil
}

// Get returns the session id of owner and extends its expiry. Expired
// sessions are deleted and reported as not found, as are sessions of
// another owner.
func (s *Store) Get(ctx context.Context, id types.ID, owner string) (*Session, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT id, owner, state, created_at, updated_at, expires_at
		FROM sessions WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load session")
	}

	if r.Owner != owner {
		return nil, apperrors.NotFound("session", id.String())
	}
	if !s.now().Before(time.UnixMilli(r.ExpiresAt)) {
		if err := s.Delete(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("session_id", r.ID).Msg("failed to delete expired session")
		}
		return nil, apperrors.NotFound("session", id.String())
	}
	sess, err := r.session()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load session")
	}

	expires := s.now().UTC().Truncate(time.Millisecond).Add(s.ttl)
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET expires_at = ? WHERE id = ?`,
		expires.UnixMilli(), id.String()); err != nil {
		return nil, apperrors.Wrap(err, "failed to refresh session")
	}
	sess.ExpiresAt = expires
	return sess, nil
}

// Save stores the state of sess and extends its expiry.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	state, err := json.Marshal(sess.State)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode session state")
	}
	now := s.now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, updated_at = ?, expires_at = ?
		WHERE id = ?`,
		string(state), now.UnixMilli(), now.Add(s.ttl).UnixMilli(), sess.ID.String(),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to save session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("session", sess.ID.String())
	}
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, id types.ID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String()); err != nil {
		return apperrors.Wrap(err, "failed to delete session")
	}
	return nil
}

// Purge deletes every expired session and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to purge sessions")
	}
	return res.RowsAffected()
}

// PurgeEvery runs Purge at each interval until ctx is done.
func (s *Store) PurgeEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Purge(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("session purge failed")
				continue
			}
			if n > 0 {
				s.log.Info().Int64("purged", n).Msg("expired sessions purged")
			}
		}
	}
}

// Health pings the session database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
