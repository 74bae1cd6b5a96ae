package rule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cosmo-home/cosmocore/internal/infrastructure/database"
)

// Repository persists rules to SQLite. Trigger, condition, and action
// specifications are stored as JSON columns; the relational columns
// carry only what queries filter on.
type Repository struct {
	db *database.DB
}

// NewRepository creates a rule repository backed by the given database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create validates and inserts a rule. A missing ID is generated;
// timestamps are set to now.
func (r *Repository) Create(ctx context.Context, rl *Rule) error {
	if err := Validate(rl); err != nil {
		return err
	}
	if rl.ID == "" {
		rl.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rl.CreatedAt = now
	rl.UpdatedAt = now

	triggerJSON, conditionsJSON, actionsJSON, err := marshalSpecs(rl)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rules
			(id, name, slug, enabled, reentrant, cooldown_ms, trigger, conditions, actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rl.ID, rl.Name, rl.Slug, rl.Enabled, rl.Reentrant, rl.CooldownMS,
		triggerJSON, conditionsJSON, actionsJSON,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicateSlug, rl.Slug)
		}
		return fmt.Errorf("inserting rule %s: %w", rl.Slug, err)
	}

	return nil
}

// Update validates and rewrites an existing rule by ID.
func (r *Repository) Update(ctx context.Context, rl *Rule) error {
	if err := Validate(rl); err != nil {
		return err
	}
	rl.UpdatedAt = time.Now().UTC()

	triggerJSON, conditionsJSON, actionsJSON, err := marshalSpecs(rl)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE rules
		SET name = ?, slug = ?, enabled = ?, reentrant = ?, cooldown_ms = ?,
		    trigger = ?, conditions = ?, actions = ?, updated_at = ?
		WHERE id = ?
	`,
		rl.Name, rl.Slug, rl.Enabled, rl.Reentrant, rl.CooldownMS,
		triggerJSON, conditionsJSON, actionsJSON,
		rl.UpdatedAt.Format(time.RFC3339Nano), rl.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicateSlug, rl.Slug)
		}
		return fmt.Errorf("updating rule %s: %w", rl.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rl.ID)
	}

	return nil
}

// Delete removes a rule by ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetByID fetches one rule by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Rule, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rl, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rl, err
}

// GetBySlug fetches one rule by slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Rule, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE slug = ?`, slug)
	rl, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return rl, err
}

// List returns all rules ordered by slug.
func (r *Repository) List(ctx context.Context) ([]*Rule, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}

	return out, nil
}

const selectColumns = `
	SELECT id, name, slug, enabled, reentrant, cooldown_ms, trigger, conditions, actions, created_at, updated_at
	FROM rules`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*Rule, error) {
	var (
		rl             Rule
		triggerJSON    string
		conditionsJSON string
		actionsJSON    string
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&rl.ID, &rl.Name, &rl.Slug, &rl.Enabled, &rl.Reentrant, &rl.CooldownMS,
		&triggerJSON, &conditionsJSON, &actionsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(triggerJSON), &rl.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger for %s: %w", rl.Slug, err)
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &rl.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshaling conditions for %s: %w", rl.Slug, err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rl.Actions); err != nil {
		return nil, fmt.Errorf("unmarshaling actions for %s: %w", rl.Slug, err)
	}
	if rl.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", rl.Slug, err)
	}
	if rl.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", rl.Slug, err)
	}

	return &rl, nil
}

func marshalSpecs(rl *Rule) (trigger, conditions, actions string, err error) {
	triggerJSON, err := json.Marshal(rl.Trigger)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling trigger for %s: %w", rl.Slug, err)
	}
	conditionsJSON, err := json.Marshal(rl.Conditions)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling conditions for %s: %w", rl.Slug, err)
	}
	actionsJSON, err := json.Marshal(rl.Actions)
	if err != nil {
		return "", "", "", fmt.Errorf("marshaling actions for %s: %w", rl.Slug, err)
	}
	return string(triggerJSON), string(conditionsJSON), string(actionsJSON), nil
}
