package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store defines the persistence operations on the mirror.
// This abstraction lets consumers be tested without a database.
type Store interface {
	// List returns entities ordered by entity ID. A limit of 0 means no limit.
	List(ctx context.Context, skip, limit int) ([]State, error)

	// Get returns one entity. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, entityID string) (*State, error)

	// Upsert applies an update, creating the entity if necessary, and
	// returns the stored result.
	Upsert(ctx context.Context, entityID string, u Update) (*State, error)

	// Delete removes an entity. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, entityID string) error
}

// SQLiteStore implements Store on the entities table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a Store backed by an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

const selectColumns = `entity_id, state, attributes, last_updated, last_changed, context`

// List returns a page of entities ordered by entity ID.
func (s *SQLiteStore) List(ctx context.Context, skip, limit int) ([]State, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM entities ORDER BY entity_id LIMIT ? OFFSET ?`,
		limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return states, nil
}

// Get returns one entity by ID.
func (s *SQLiteStore) Get(ctx context.Context, entityID string) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM entities WHERE entity_id = ?`, entityID)
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return st, nil
}

// Upsert applies u to the entity inside one transaction.
//
// When u.State is set, state and last_changed are replaced. Attributes are
// merged shallowly. last_updated is always bumped. Replaying the same update
// leaves state and attributes unchanged.
func (s *SQLiteStore) Upsert(ctx context.Context, entityID string, u Update) (*State, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := s.now()
	current, err := scanState(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM entities WHERE entity_id = ?`, entityID))
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if !exists {
		current = &State{
			EntityID:    entityID,
			State:       DefaultState,
			Attributes:  map[string]any{},
			Context:     map[string]any{},
			LastChanged: now,
		}
	}

	if u.State != nil {
		current.State = *u.State
		current.LastChanged = now
	}
	current.Attributes = MergeAttributes(current.Attributes, u.Attributes)
	current.LastUpdated = now

	attrsJSON, err := json.Marshal(current.Attributes)
	if err != nil {
		return nil, fmt.Errorf("marshalling attributes: %w", err)
	}
	ctxJSON, err := json.Marshal(current.Context)
	if err != nil {
		return nil, fmt.Errorf("marshalling context: %w", err)
	}

	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE entities
			SET state = ?, attributes = ?, last_updated = ?, last_changed = ?
			WHERE entity_id = ?`,
			current.State, string(attrsJSON),
			formatTime(current.LastUpdated), formatTime(current.LastChanged),
			entityID,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (entity_id, state, attributes, last_updated, last_changed, context)
			VALUES (?, ?, ?, ?, ?, ?)`,
			entityID, current.State, string(attrsJSON),
			formatTime(current.LastUpdated), formatTime(current.LastChanged),
			string(ctxJSON),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("writing entity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing entity: %w", err)
	}
	return current, nil
}

// Delete removes an entity by ID.
func (s *SQLiteStore) Delete(ctx context.Context, entityID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*State, error) {
	var (
		st                       State
		attrs, ctxJSON           string
		lastUpdated, lastChanged string
	)
	if err := row.Scan(&st.EntityID, &st.State, &attrs, &lastUpdated, &lastChanged, &ctxJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning entity: %w", err)
	}

	if err := json.Unmarshal([]byte(attrs), &st.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshalling attributes for %s: %w", st.EntityID, err)
	}
	if err := json.Unmarshal([]byte(ctxJSON), &st.Context); err != nil {
		return nil, fmt.Errorf("unmarshalling context for %s: %w", st.EntityID, err)
	}
	if st.Attributes == nil {
		st.Attributes = map[string]any{}
	}
	if st.Context == nil {
		st.Context = map[string]any{}
	}

	var err error
	if st.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
		return nil, fmt.Errorf("parsing last_updated for %s: %w", st.EntityID, err)
	}
	if st.LastChanged, err = time.Parse(time.RFC3339Nano, lastChanged); err != nil {
		return nil, fmt.Errorf("parsing last_changed for %s: %w", st.EntityID, err)
	}
	return &st, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
