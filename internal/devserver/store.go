package devserver

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/authsession/internal/identity"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	errUserNotFound        = errors.New("devserver: user not found")
	errRefreshTokenInvalid = errors.New("devserver: refresh token invalid")
)

// SQL statements used by the store.
const (
	sqlUpsertUser = `INSERT INTO users (email, password_hash, permissions, roles, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			password_hash = excluded.password_hash,
			permissions = excluded.permissions,
			roles = excluded.roles`
	sqlFindUser       = `SELECT email, password_hash, permissions, roles FROM users WHERE email = ?`
	sqlListUsers      = `SELECT email, password_hash, permissions, roles FROM users ORDER BY email`
	sqlInsertRefresh  = `INSERT INTO refresh_tokens (token, email, expires_at) VALUES (?, ?, ?)`
	sqlConsumeRefresh = `UPDATE refresh_tokens SET used = 1
		WHERE token = ? AND used = 0 AND expires_at > ?
		RETURNING email`
	sqlPruneRefresh = `DELETE FROM refresh_tokens WHERE used = 1 OR expires_at <= ?`
)

// userRecord is a users row.
type userRecord struct {
	identity.Identity
	PasswordHash string
}

// store persists users and refresh tokens in SQLite.
type store struct {
	db     *sql.DB
	logger *slog.Logger
}

// openStore opens the SQLite database at path and applies pending
// migrations.
func openStore(ctx context.Context, path string, logger *slog.Logger) (*store, error) {
	// DSN parameters make the pragmas apply to every pooled connection.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("devserver: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: refresh token rotation must not interleave.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &store{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("devserver: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("devserver: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("devserver: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *store) Close() error {
	return s.db.Close()
}

// upsertUser creates or replaces a user.
func (s *store) upsertUser(ctx context.Context, u *userRecord, now time.Time) error {
	perms, err := json.Marshal(nonNil(u.Permissions))
	if err != nil {
		return fmt.Errorf("devserver: encoding permissions: %w", err)
	}

	roles, err := json.Marshal(nonNil(u.Roles))
	if err != nil {
		return fmt.Errorf("devserver: encoding roles: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlUpsertUser,
		u.Email, u.PasswordHash, string(perms), string(roles), now.Unix()); err != nil {
		return fmt.Errorf("devserver: saving user %s: %w", u.Email, err)
	}

	return nil
}

// findUser returns the user with the given normalized email.
func (s *store) findUser(ctx context.Context, email string) (*userRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, sqlFindUser, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUserNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("devserver: loading user %s: %w", email, err)
	}

	return u, nil
}

// listUsers returns every user ordered by email.
func (s *store) listUsers(ctx context.Context) ([]*userRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlListUsers)
	if err != nil {
		return nil, fmt.Errorf("devserver: listing users: %w", err)
	}
	defer rows.Close()

	var users []*userRecord

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("devserver: scanning user: %w", err)
		}

		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("devserver: iterating users: %w", err)
	}

	return users, nil
}

// issueRefreshToken stores and returns a new single-use refresh token.
func (s *store) issueRefreshToken(ctx context.Context, email string, expires time.Time) (string, error) {
	token := uuid.NewString()

	if _, err := s.db.ExecContext(ctx, sqlInsertRefresh, token, email, expires.Unix()); err != nil {
		return "", fmt.Errorf("devserver: saving refresh token: %w", err)
	}

	return token, nil
}

// rotateRefreshToken consumes token and issues its replacement in one
// transaction. A token that is unknown, expired or already used yields
// errRefreshTokenInvalid.
func (s *store) rotateRefreshToken(ctx context.Context, token string, now, expires time.Time) (string, string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("devserver: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var email string

	err = tx.QueryRowContext(ctx, sqlConsumeRefresh, token, now.Unix()).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", errRefreshTokenInvalid
	}

	if err != nil {
		return "", "", fmt.Errorf("devserver: consuming refresh token: %w", err)
	}

	next := uuid.NewString()

	if _, err := tx.ExecContext(ctx, sqlInsertRefresh, next, email, expires.Unix()); err != nil {
		return "", "", fmt.Errorf("devserver: saving refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("devserver: committing rotation: %w", err)
	}

	return email, next, nil
}

// pruneRefreshTokens deletes used and expired refresh tokens.
func (s *store) pruneRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlPruneRefresh, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("devserver: pruning refresh tokens: %w", err)
	}

	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*userRecord, error) {
	var (
		u            userRecord
		perms, roles string
	)

	if err := row.Scan(&u.Email, &u.PasswordHash, &perms, &roles); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(perms), &u.Permissions); err != nil {
		return nil, fmt.Errorf("decoding permissions: %w", err)
	}

	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, fmt.Errorf("decoding roles: %w", err)
	}

	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
