package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/ticketauth"
	"github.com/bwmarrin/snowflake"
)

var _ ticketauth.CredentialStore = (*Store)(nil)

// Store is a mutex-guarded in-memory CredentialStore. Email and username
// comparisons are case-insensitive.
type Store struct {
	mu         sync.RWMutex
	node       *snowflake.Node
	now        func() time.Time
	byID       map[int64]ticketauth.Identity
	byEmail    map[string]int64
	byUsername map[string]int64
	byExternal map[string]int64
}

// New creates an empty store issuing IDs from the snowflake node nodeID.
func New(nodeID int64) (*Store, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return NewWithNode(node), nil
}

// NewWithNode creates an empty store sharing an existing snowflake node.
func NewWithNode(node *snowflake.Node) *Store {
	return &Store{
		node:       node,
		now:        time.Now,
		byID:       make(map[int64]ticketauth.Identity),
		byEmail:    make(map[string]int64),
		byUsername: make(map[string]int64),
		byExternal: make(map[string]int64),
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (ticketauth.Identity, error) {
	return s.lookup(ctx, s.byEmail, normalize(email))
}

func (s *Store) FindByID(ctx context.Context, id int64) (ticketauth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return ticketauth.Identity{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[id]
	if !ok {
		return ticketauth.Identity{}, ticketauth.ErrIdentityNotFound
	}
	return identity, nil
}

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (ticketauth.Identity, error) {
	return s.lookup(ctx, s.byExternal, strings.TrimSpace(externalID))
}

func (s *Store) lookup(ctx context.Context, index map[string]int64, key string) (ticketauth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return ticketauth.Identity{}, err
	}
	if key == "" {
		return ticketauth.Identity{}, ticketauth.ErrIdentityNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := index[key]
	if !ok {
		return ticketauth.Identity{}, ticketauth.ErrIdentityNotFound
	}
	return s.byID[id], nil
}

// Create assigns a snowflake ID and CreatedAt when unset. Uniqueness is
// checked and recorded under one lock, so concurrent creates for the same
// email yield exactly one winner.
func (s *Store) Create(ctx context.Context, identity ticketauth.Identity) (ticketauth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return ticketauth.Identity{}, err
	}

	email := normalize(identity.Email)
	username := normalize(identity.Username)
	external := strings.TrimSpace(identity.ExternalID)
	if username == "" {
		return ticketauth.Identity{}, fmt.Errorf("create identity: username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return ticketauth.Identity{}, ticketauth.ErrIdentityExists
		}
	}
	if external != "" {
		if _, ok := s.byExternal[external]; ok {
			return ticketauth.Identity{}, ticketauth.ErrIdentityExists
		}
	}
	if _, ok := s.byUsername[username]; ok {
		return ticketauth.Identity{}, ticketauth.ErrUsernameTaken
	}

	identity.ID = s.node.Generate().Int64()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = s.now().UTC()
	}

	s.byID[identity.ID] = identity
	s.byUsername[username] = identity.ID
	if email != "" {
		s.byEmail[email] = identity.ID
	}
	if external != "" {
		s.byExternal[external] = identity.ID
	}
	return identity, nil
}

// Update replaces the mutable fields of an existing identity. Email,
// username and external ID are immutable here.
func (s *Store) Update(ctx context.Context, identity ticketauth.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[identity.ID]
	if !ok {
		return ticketauth.ErrIdentityNotFound
	}
	current.DisplayName = identity.DisplayName
	current.PasswordHash = identity.PasswordHash
	current.Role = identity.Role
	current.Status = identity.Status
	current.AvatarURL = identity.AvatarURL
	current.LastLoginAt = identity.LastLoginAt
	s.byID[identity.ID] = current
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return ticketauth.ErrIdentityNotFound
	}
	current.LastLoginAt = at
	s.byID[id] = current
	return nil
}

// Len reports the number of stored identities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
