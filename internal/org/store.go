package org

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/quartershq/quarters/internal/database"
)

// Store persists organizations. Methods take a querier so callers can run
// them inside their own transactions.
type Store struct{}

// NewStore creates an organization store.
func NewStore() *Store {
	return &Store{}
}

const orgColumns = `id, name, slug, color, coalesce(image, ''), coalesce(owner_id, ''),
	coalesce(join_code, ''), coalesce(plan, ''), coalesce(customer_id, ''),
	coalesce(updated_by, ''), updated_time, created_at`

func scanOrg(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Color, &o.Image, &o.OwnerID,
		&o.JoinCode, &o.Plan, &o.CustomerID, &o.UpdatedBy, &o.UpdatedTime, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}
	return &o, nil
}

// Create inserts an organization.
func (s *Store) Create(ctx context.Context, q database.Querier, o *Organization) (*Organization, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO organizations (name, slug, color, image, owner_id, join_code, plan)
		VALUES ($1, $2, $3, nullif($4, ''), $5, $6, nullif($7, ''))
		RETURNING `+orgColumns,
		o.Name, o.Slug, o.Color, o.Image, o.OwnerID, o.JoinCode, o.Plan)
	return scanOrg(row)
}

// Get returns an organization by id.
func (s *Store) Get(ctx context.Context, q database.Querier, id string) (*Organization, error) {
	row := q.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	return scanOrg(row)
}

// GetBySlug returns an organization by slug, case-insensitive.
func (s *Store) GetBySlug(ctx context.Context, q database.Querier, slug string) (*Organization, error) {
	row := q.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE lower(slug) = lower($1)`, slug)
	return scanOrg(row)
}

// GetMany returns organizations for the given ids, preserving input order
// and skipping ids that no longer resolve.
func (s *Store) GetMany(ctx context.Context, q database.Querier, ids []string) ([]*Organization, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = any($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Organization, len(ids))
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		byID[o.ID] = o
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*Organization, 0, len(ids))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			ordered = append(ordered, o)
		}
	}
	return ordered, nil
}

// SlugExists reports whether any organization other than excludeID uses the
// slug, case-insensitive. An empty excludeID must not reach the query: the
// id column is a uuid, and an empty string is not a valid uuid parameter.
func (s *Store) SlugExists(ctx context.Context, q database.Querier, slug, excludeID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM organizations WHERE lower(slug) = lower($1))`
	args := []any{slug}
	if excludeID != "" {
		query = `SELECT EXISTS (SELECT 1 FROM organizations WHERE lower(slug) = lower($1) AND id <> $2)`
		args = append(args, excludeID)
	}

	var exists bool
	if err := q.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// Update applies the non-nil fields plus the updated-by stamp. The slug is
// set when the caller re-derived it from a name change.
func (s *Store) Update(ctx context.Context, q database.Querier, id string, in UpdateInput, slug, updatedBy string) (*Organization, error) {
	var sets []string
	var args []any
	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if in.Name != nil {
		add("name = $%d", *in.Name)
	}
	if slug != "" {
		add("slug = $%d", slug)
	}
	if in.Image != nil {
		add("image = nullif($%d, '')", *in.Image)
	}
	if in.Color != nil {
		add("color = $%d", *in.Color)
	}
	add("updated_by = $%d", updatedBy)
	sets = append(sets, "updated_time = now()")

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE organizations SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), orgColumns)
	return scanOrg(q.QueryRow(ctx, query, args...))
}

// SetJoinCode rotates the organization's join code.
func (s *Store) SetJoinCode(ctx context.Context, q database.Querier, id, code string) error {
	tag, err := q.Exec(ctx, `UPDATE organizations SET join_code = $2 WHERE id = $1`, id, code)
	if err != nil {
		return fmt.Errorf("failed to set join code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an organization row.
func (s *Store) Delete(ctx context.Context, q database.Querier, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the total number of organizations, for metrics.
func (s *Store) Count(ctx context.Context, q database.Querier) (int64, error) {
	var n int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM organizations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count organizations: %w", err)
	}
	return n, nil
}
