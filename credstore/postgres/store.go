// Package postgres provides a ticketauth.CredentialStore on PostgreSQL.
//
// Identity IDs are snowflake values assigned by the store. Unique
// violations are mapped by constraint name: identities_email_key and
// identities_external_id_key become ticketauth.ErrIdentityExists,
// identities_username_key becomes ticketauth.ErrUsernameTaken.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/ticketauth"
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ ticketauth.CredentialStore = (*Store)(nil)

const (
	constraintEmail      = "identities_email_key"
	constraintUsername   = "identities_username_key"
	constraintExternalID = "identities_external_id_key"

	uniqueViolation = "23505"
)

// Schema creates the identities table. Email and username are stored
// lowercased; NULL email or external ID never conflicts.
const Schema = `CREATE TABLE IF NOT EXISTS identities (
	id            BIGINT PRIMARY KEY,
	email         TEXT,
	username      TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL,
	status        SMALLINT NOT NULL DEFAULT 1,
	external_id   TEXT,
	avatar_url    TEXT NOT NULL DEFAULT '',
	last_login_at TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT identities_email_key UNIQUE (email),
	CONSTRAINT identities_username_key UNIQUE (username),
	CONSTRAINT identities_external_id_key UNIQUE (external_id)
)`

const identityColumns = `id, email, username, display_name, password_hash, role, status, external_id, avatar_url, last_login_at, created_at`

const insertIdentitySQL = `INSERT INTO identities (id, email, username, display_name, password_hash, role, status, external_id, avatar_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + identityColumns

const updateIdentitySQL = `UPDATE identities
SET display_name = $2, password_hash = $3, role = $4, status = $5, avatar_url = $6, last_login_at = $7
WHERE id = $1`

const touchLastLoginSQL = `UPDATE identities SET last_login_at = $2 WHERE id = $1`

// Store implements ticketauth.CredentialStore.
type Store struct {
	db   *pgxpool.Pool
	node *snowflake.Node
	now  func() time.Time
}

func New(pool *pgxpool.Pool, node *snowflake.Node) *Store {
	return &Store{db: pool, node: node, now: time.Now}
}

// EnsureSchema applies Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (ticketauth.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ticketauth.Identity{}, ticketauth.ErrIdentityNotFound
	}
	return s.queryOne(ctx, "get identity by email", `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
}

func (s *Store) FindByID(ctx context.Context, id int64) (ticketauth.Identity, error) {
	return s.queryOne(ctx, "get identity by id", `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (ticketauth.Identity, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ticketauth.Identity{}, ticketauth.ErrIdentityNotFound
	}
	return s.queryOne(ctx, "get identity by external id", `SELECT `+identityColumns+` FROM identities WHERE external_id = $1`, externalID)
}

func (s *Store) queryOne(ctx context.Context, op, query string, arg any) (ticketauth.Identity, error) {
	identity, err := scanIdentity(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ticketauth.Identity{}, ticketauth.ErrIdentityNotFound
		}
		return ticketauth.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	return identity, nil
}

func (s *Store) Create(ctx context.Context, identity ticketauth.Identity) (ticketauth.Identity, error) {
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = s.now().UTC()
	}

	row := s.db.QueryRow(ctx, insertIdentitySQL,
		s.node.Generate().Int64(),
		nullable(strings.ToLower(strings.TrimSpace(identity.Email))),
		strings.ToLower(strings.TrimSpace(identity.Username)),
		identity.DisplayName,
		identity.PasswordHash,
		identity.Role,
		int16(identity.Status),
		nullable(strings.TrimSpace(identity.ExternalID)),
		identity.AvatarURL,
		identity.CreatedAt,
	)

	inserted, err := scanIdentity(row)
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return ticketauth.Identity{}, mapped
		}
		return ticketauth.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	return inserted, nil
}

func (s *Store) Update(ctx context.Context, identity ticketauth.Identity) error {
	var lastLogin *time.Time
	if !identity.LastLoginAt.IsZero() {
		t := identity.LastLoginAt.UTC()
		lastLogin = &t
	}

	tag, err := s.db.Exec(ctx, updateIdentitySQL,
		identity.ID,
		identity.DisplayName,
		identity.PasswordHash,
		identity.Role,
		int16(identity.Status),
		identity.AvatarURL,
		lastLogin,
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ticketauth.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, touchLastLoginSQL, id, at.UTC())
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ticketauth.ErrIdentityNotFound
	}
	return nil
}

// mapConstraintError translates a unique violation into the store's
// sentinel errors. It returns nil for any other error.
func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}

	switch pgErr.ConstraintName {
	case constraintUsername:
		return ticketauth.ErrUsernameTaken
	case constraintEmail, constraintExternalID:
		return ticketauth.ErrIdentityExists
	default:
		return fmt.Errorf("%w: %s", ticketauth.ErrIdentityExists, pgErr.ConstraintName)
	}
}

func scanIdentity(row pgx.Row) (ticketauth.Identity, error) {
	var (
		identity   ticketauth.Identity
		email      *string
		externalID *string
		status     int16
		lastLogin  *time.Time
	)
	if err := row.Scan(
		&identity.ID,
		&email,
		&identity.Username,
		&identity.DisplayName,
		&identity.PasswordHash,
		&identity.Role,
		&status,
		&externalID,
		&identity.AvatarURL,
		&lastLogin,
		&identity.CreatedAt,
	); err != nil {
		return ticketauth.Identity{}, err
	}

	if email != nil {
		identity.Email = *email
	}
	if externalID != nil {
		identity.ExternalID = *externalID
	}
	if lastLogin != nil {
		identity.LastLoginAt = *lastLogin
	}
	identity.Status = ticketauth.IdentityStatus(status)
	return identity, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
