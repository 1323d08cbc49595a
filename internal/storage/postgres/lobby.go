package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/mansion/internal/lobby"
	"github.com/cory-johannsen/mansion/internal/online"
)

const lobbyColumns = `id, name, owner_name, address, token_hash,
	lan, advertise, max_public_connections, allow_join_in_progress,
	uses_presence, allow_join_via_presence, use_lobbies_if_available,
	open_slots, created_at`

// LobbyRepository is a lobby.Store over the lobby_sessions table.
type LobbyRepository struct {
	db *pgxpool.Pool
}

// NewLobbyRepository creates a LobbyRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewLobbyRepository(db *pgxpool.Pool) *LobbyRepository {
	return &LobbyRepository{db: db}
}

// Insert implements lobby.Store.
func (r *LobbyRepository) Insert(ctx context.Context, rec lobby.Record) error {
	s := rec.Settings
	_, err := r.db.Exec(ctx,
		`INSERT INTO lobby_sessions (`+lobbyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.Name, rec.OwnerName, rec.Address, rec.TokenHash,
		s.IsLAN(), s.Advertise, s.MaxPublicConnections, s.AllowJoinInProgress,
		s.UsesPresence, s.AllowJoinViaPresence, s.UseLobbiesIfAvailable,
		rec.OpenSlots, rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", lobby.ErrExists, rec.ID)
		}
		return fmt.Errorf("inserting lobby session: %w", err)
	}
	return nil
}

// Get implements lobby.Store.
func (r *LobbyRepository) Get(ctx context.Context, id string) (lobby.Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT `+lobbyColumns+` FROM lobby_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lobby.Record{}, fmt.Errorf("%w: %s", lobby.ErrNotFound, id)
		}
		return lobby.Record{}, fmt.Errorf("querying lobby session: %w", err)
	}
	return rec, nil
}

// Find implements lobby.Store.
func (r *LobbyRepository) Find(ctx context.Context, f lobby.Filter) ([]lobby.Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = lobby.MaxFindResults
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+lobbyColumns+` FROM lobby_sessions
		 WHERE advertise AND lan = $1 AND (NOT $2 OR uses_presence)
		 ORDER BY created_at, id
		 LIMIT $3`,
		f.LAN, f.PresenceOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying lobby sessions: %w", err)
	}
	defer rows.Close()

	var out []lobby.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lobby session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lobby sessions: %w", err)
	}
	return out, nil
}

// Reserve implements lobby.Store. The slot is taken by a single conditional
// UPDATE so concurrent joiners never oversubscribe a session.
func (r *LobbyRepository) Reserve(ctx context.Context, id string) (lobby.Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`UPDATE lobby_sessions SET open_slots = open_slots - 1
		 WHERE id = $1 AND open_slots > 0
		 RETURNING `+lobbyColumns, id))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return lobby.Record{}, fmt.Errorf("reserving lobby slot: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lobby_sessions WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return lobby.Record{}, fmt.Errorf("checking lobby session: %w", err)
	}
	if exists {
		return lobby.Record{}, fmt.Errorf("%w: %s", lobby.ErrFull, id)
	}
	return lobby.Record{}, fmt.Errorf("%w: %s", lobby.ErrNotFound, id)
}

// Release implements lobby.Store.
func (r *LobbyRepository) Release(ctx context.Context, id string) (lobby.Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`UPDATE lobby_sessions SET open_slots = LEAST(open_slots + 1, max_public_connections)
		 WHERE id = $1
		 RETURNING `+lobbyColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lobby.Record{}, fmt.Errorf("%w: %s", lobby.ErrNotFound, id)
		}
		return lobby.Record{}, fmt.Errorf("releasing lobby slot: %w", err)
	}
	return rec, nil
}

// Delete implements lobby.Store.
func (r *LobbyRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM lobby_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting lobby session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", lobby.ErrNotFound, id)
	}
	return nil
}

func scanRecord(row pgx.Row) (lobby.Record, error) {
	var (
		rec lobby.Record
		lan bool
	)
	s := &rec.Settings
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.OwnerName, &rec.Address, &rec.TokenHash,
		&lan, &s.Advertise, &s.MaxPublicConnections, &s.AllowJoinInProgress,
		&s.UsesPresence, &s.AllowJoinViaPresence, &s.UseLobbiesIfAvailable,
		&rec.OpenSlots, &rec.CreatedAt,
	)
	if err != nil {
		return lobby.Record{}, err
	}
	s.Visibility = online.VisibilityOnline
	if lan {
		s.Visibility = online.VisibilityLAN
	}
	return rec, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
