package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dexsync "github.com/dexsync/dexsync/internal/sync"
)

// ListCaptured returns the persisted captured set ordered by pokemon id.
func (s *SQLiteStore) ListCaptured(ctx context.Context) ([]dexsync.CapturedPokemon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pokemon_id, pokemon_name, user_id, created_at
		FROM captured_pokemon
		ORDER BY pokemon_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query captured set: %w", err)
	}
	defer rows.Close()

	captured := make([]dexsync.CapturedPokemon, 0)
	for rows.Next() {
		var c dexsync.CapturedPokemon
		var createdAt string
		if err := rows.Scan(&c.PokemonID, &c.PokemonName, &c.UserID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan captured pokemon: %w", err)
		}
		var parseErr error
		if c.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
			slog.Warn("captured_pokemon: failed to parse created_at", "value", createdAt, "error", parseErr)
		}
		captured = append(captured, c)
	}
	return captured, rows.Err()
}

// UpsertCaptured inserts or replaces one entry in the captured set.
func (s *SQLiteStore) UpsertCaptured(ctx context.Context, c dexsync.CapturedPokemon) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO captured_pokemon (pokemon_id, pokemon_name, user_id, created_at)
		VALUES (?, ?, ?, ?)
	`, c.PokemonID, c.PokemonName, c.UserID, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert captured %d: %w", c.PokemonID, err)
	}
	return nil
}

// DeleteCaptured removes one entry from the captured set.
// Deleting an absent entry is not an error.
func (s *SQLiteStore) DeleteCaptured(ctx context.Context, pokemonID int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM captured_pokemon WHERE pokemon_id = ?`, pokemonID)
	if err != nil {
		return fmt.Errorf("delete captured %d: %w", pokemonID, err)
	}
	return nil
}

// ReplaceCaptured atomically replaces the whole captured set.
// Used by reconciliation and by import.
func (s *SQLiteStore) ReplaceCaptured(ctx context.Context, captured []dexsync.CapturedPokemon) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace captured: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM captured_pokemon`); err != nil {
		return fmt.Errorf("clear captured set: %w", err)
	}

	for _, c := range captured {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO captured_pokemon (pokemon_id, pokemon_name, user_id, created_at)
			VALUES (?, ?, ?, ?)
		`, c.PokemonID, c.PokemonName, c.UserID, c.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert captured %d: %w", c.PokemonID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace captured: %w", err)
	}
	return nil
}
