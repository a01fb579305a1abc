package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quartershq/quarters/internal/database"
)

// Store persists notifications. Methods take a querier so callers can run
// them inside their own transactions.
type Store struct{}

// NewStore creates a notification store.
func NewStore() *Store {
	return &Store{}
}

const notificationColumns = `n.id, n.org_id, coalesce(n.user_id, ''), n.kind, n.type,
	n.message, coalesce(n.link, ''), coalesce(n.request_user_id, ''), n.read,
	n.archived, n.created_at`

// Create inserts an unread, unarchived notification.
func (s *Store) Create(ctx context.Context, q database.Querier, in CreateInput) (*Notification, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO notifications (org_id, user_id, kind, type, message, link, request_user_id)
		VALUES ($1, nullif($2, ''), $3, $4, $5, nullif($6, ''), nullif($7, ''))
		RETURNING id, org_id, coalesce(user_id, ''), kind, type, message, coalesce(link, ''),
			coalesce(request_user_id, ''), read, archived, created_at`,
		in.OrgID, in.UserID, in.Kind, in.Type, in.Message, in.Link, in.RequestUserID)

	var n Notification
	err := row.Scan(&n.ID, &n.OrgID, &n.UserID, &n.Kind, &n.Type, &n.Message, &n.Link,
		&n.RequestUserID, &n.Read, &n.Archived, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return &n, nil
}

// Get returns a notification by id.
func (s *Store) Get(ctx context.Context, q database.Querier, id string) (*Notification, error) {
	row := q.QueryRow(ctx, `
		SELECT id, org_id, coalesce(user_id, ''), kind, type, message, coalesce(link, ''),
			coalesce(request_user_id, ''), read, archived, created_at
		FROM notifications WHERE id = $1`, id)

	var n Notification
	err := row.Scan(&n.ID, &n.OrgID, &n.UserID, &n.Kind, &n.Type, &n.Message, &n.Link,
		&n.RequestUserID, &n.Read, &n.Archived, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

// List returns a user's notifications in an organization, newest first,
// joined with the requesting user when one is set. Requests address the
// whole organization, so the user filter matches rows with no target user
// as well. The filter narrows by kind and archive state.
func (s *Store) List(ctx context.Context, q database.Querier, orgID, userID, filter string) ([]*WithUser, error) {
	query := `
		SELECT ` + notificationColumns + `,
			coalesce(u.id::text, ''), coalesce(u.name, ''), coalesce(u.email, ''),
			coalesce(u.image, ''), coalesce(u.color, '')
		FROM notifications n
		LEFT JOIN users u ON u.id::text = n.request_user_id
		WHERE n.org_id = $1 AND (n.user_id = $2 OR n.user_id IS NULL)`

	switch filter {
	case FilterNotifications:
		query += ` AND n.kind = 'notification' AND NOT n.archived`
	case FilterRequests:
		query += ` AND n.kind = 'request' AND NOT n.archived`
	case FilterArchived:
		query += ` AND n.archived`
	case FilterAll, "":
	default:
		return nil, fmt.Errorf("unknown notification filter %q", filter)
	}
	query += ` ORDER BY n.created_at DESC`

	rows, err := q.Query(ctx, query, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*WithUser
	for rows.Next() {
		var n WithUser
		var ru RequestUser
		err := rows.Scan(&n.ID, &n.OrgID, &n.UserID, &n.Kind, &n.Type, &n.Message, &n.Link,
			&n.RequestUserID, &n.Read, &n.Archived, &n.CreatedAt,
			&ru.ID, &ru.Name, &ru.Email, &ru.Image, &ru.Color)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if ru.ID != "" {
			n.RequestUser = &ru
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// ToggleRead flips the read flag. Reading a notification archives it;
// marking it unread brings it back.
func (s *Store) ToggleRead(ctx context.Context, q database.Querier, id string) (*Notification, error) {
	row := q.QueryRow(ctx, `
		UPDATE notifications SET read = NOT read, archived = NOT read
		WHERE id = $1
		RETURNING id, org_id, coalesce(user_id, ''), kind, type, message, coalesce(link, ''),
			coalesce(request_user_id, ''), read, archived, created_at`, id)

	var n Notification
	err := row.Scan(&n.ID, &n.OrgID, &n.UserID, &n.Kind, &n.Type, &n.Message, &n.Link,
		&n.RequestUserID, &n.Read, &n.Archived, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to toggle notification: %w", err)
	}
	return &n, nil
}

// MarkAllRead reads and archives every unarchived notification a user has
// in an organization. Returns the number of rows touched.
func (s *Store) MarkAllRead(ctx context.Context, q database.Querier, orgID, userID string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE notifications SET read = true, archived = true
		WHERE org_id = $1 AND user_id = $2 AND NOT archived
	`, orgID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a notification.
func (s *Store) Delete(ctx context.Context, q database.Querier, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
