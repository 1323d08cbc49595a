package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/mansion/internal/online"
)

// Service implements the lobby operations over a Store.
type Service struct {
	store    Store
	logger   *zap.Logger
	hashCost int
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHashCost sets the bcrypt cost used for owner tokens.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

// WithClock replaces the clock used to stamp new sessions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
//
// Precondition: store and logger must be non-nil.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   logger.With(zap.String("component", "lobby")),
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes a session to register.
type CreateRequest struct {
	Name      string
	OwnerName string
	Address   string
	Settings  online.Settings
}

// Create registers a session and returns it with its owner token. Only the
// bcrypt hash of the token is stored.
//
// Postcondition: The returned record has OpenSlots == Settings.MaxPublicConnections.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Record, string, error) {
	if req.Name == "" || req.Address == "" {
		return Record{}, "", fmt.Errorf("%w: name and address are required", ErrInvalidArgument)
	}
	if req.Settings.MaxPublicConnections < 0 {
		return Record{}, "", fmt.Errorf("%w: max_public_connections must be >= 0", ErrInvalidArgument)
	}

	token := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.hashCost)
	if err != nil {
		return Record{}, "", fmt.Errorf("hashing owner token: %w", err)
	}

	r := Record{
		ID:        uuid.NewString(),
		Name:      req.Name,
		OwnerName: req.OwnerName,
		Address:   req.Address,
		TokenHash: hash,
		Settings:  req.Settings,
		OpenSlots: req.Settings.MaxPublicConnections,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return Record{}, "", fmt.Errorf("storing session: %w", err)
	}

	s.logger.Info("session registered",
		zap.String("session_id", r.ID),
		zap.String("session", r.Name),
		zap.String("owner", r.OwnerName),
		zap.Int("open_slots", r.OpenSlots),
	)
	return r, token, nil
}

// Find returns advertised sessions matching f, oldest first.
func (s *Service) Find(ctx context.Context, f Filter) ([]Record, error) {
	f = f.Clamp()
	records, err := s.store.Find(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("finding sessions: %w", err)
	}
	s.logger.Debug("sessions found",
		zap.Bool("lan", f.LAN),
		zap.Bool("presence", f.PresenceOnly),
		zap.Int("limit", f.Limit),
		zap.Int("count", len(records)),
	)
	return records, nil
}

// Join reserves one open slot in the session.
//
// Postcondition: Returns ErrNotFound or ErrFull (wrapped) on failure.
func (s *Service) Join(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	r, err := s.store.Reserve(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("joining session: %w", err)
	}
	s.logger.Info("slot reserved",
		zap.String("session_id", r.ID),
		zap.Int("open_slots", r.OpenSlots),
	)
	return r, nil
}

// Leave gives back the slot a Join reserved.
//
// Postcondition: Returns ErrNotFound (wrapped) when the session is gone.
func (s *Service) Leave(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	r, err := s.store.Release(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("leaving session: %w", err)
	}
	s.logger.Info("slot released",
		zap.String("session_id", r.ID),
		zap.Int("open_slots", r.OpenSlots),
	)
	return r, nil
}

// Destroy removes a session when token matches its owner token.
func (s *Service) Destroy(ctx context.Context, id, token string) error {
	if id == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(r.TokenHash, []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("%w: owner token mismatch for %s", ErrPermissionDenied, id)
		}
		return fmt.Errorf("checking owner token: %w", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	s.logger.Info("session removed", zap.String("session_id", id), zap.String("session", r.Name))
	return nil
}
