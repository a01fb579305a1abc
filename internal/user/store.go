package user

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/quartershq/quarters/internal/database"
)

const sessionDuration = 7 * 24 * time.Hour

// ErrEmailExists is returned when creating a user with an email that is
// already registered.
var ErrEmailExists = errors.New("user with this email already exists")

// ErrNotFound is returned when a user lookup matches no row.
var ErrNotFound = errors.New("user not found")

// Store provides database operations for users and sessions.
type Store struct{}

// NewStore creates a new user store. Callers pass a pool or transaction to
// each method so membership updates can join larger transactions.
func NewStore() *Store {
	return &Store{}
}

const userColumns = `id, email, password_hash, email_verified, email_verified_at,
	name, first_name, last_name, image, phone, color, org_memberships,
	active_org_id, is_onboarding_complete, created_at, updated_at`

// scanUser scans a user row, handling the JSONB memberships column.
func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	var membershipsJSON []byte
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.EmailVerified, &u.EmailVerifiedAt,
		&u.Name, &u.FirstName, &u.LastName, &u.Image, &u.Phone, &u.Color, &membershipsJSON,
		&u.ActiveOrgID, &u.IsOnboardingComplete, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(membershipsJSON) > 0 {
		if err := json.Unmarshal(membershipsJSON, &u.Memberships); err != nil {
			return nil, fmt.Errorf("unmarshaling memberships: %w", err)
		}
	}
	if u.Memberships == nil {
		u.Memberships = []Membership{}
	}
	return u, nil
}

// marshalMemberships converts memberships to JSON for storage.
func marshalMemberships(ms []Membership) ([]byte, error) {
	if ms == nil {
		ms = []Membership{}
	}
	return json.Marshal(ms)
}

// Create inserts a new user. The password is optional: invitation
// placeholders are created without one and set it on first signin.
func (s *Store) Create(ctx context.Context, q database.Querier, in CreateUserInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	existing, err := s.GetByEmail(ctx, q, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	var hash string
	if in.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		hash = string(h)
	}

	membershipsJSON, err := marshalMemberships(in.Memberships)
	if err != nil {
		return nil, fmt.Errorf("marshaling memberships: %w", err)
	}

	u, err := scanUser(q.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO users
			(email, password_hash, name, first_name, last_name, image, phone, color,
			 org_memberships, active_org_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING %s`, userColumns),
		email, hash, in.Name, in.FirstName, in.LastName, in.Image, in.Phone,
		RandomColor(), membershipsJSON, in.ActiveOrgID,
	))
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by primary key.
func (s *Store) GetByID(ctx context.Context, q database.Querier, id string) (*User, error) {
	u, err := scanUser(q.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns), id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting user by id: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email address (case-insensitive).
func (s *Store) GetByEmail(ctx context.Context, q database.Querier, email string) (*User, error) {
	u, err := scanUser(q.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns),
		strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// ListByOrg returns every user holding a membership (any status) in orgID.
func (s *Store) ListByOrg(ctx context.Context, q database.Querier, orgID string) ([]*User, error) {
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM users
		 WHERE org_memberships @> jsonb_build_array(jsonb_build_object('org_id', $1::text))
		 ORDER BY created_at`, userColumns), orgID)
	if err != nil {
		return nil, fmt.Errorf("listing users by org: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Update performs a partial update on the user with the given id.
func (s *Store) Update(ctx context.Context, q database.Querier, id string, in UpdateUserInput) (*User, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	add := func(col string, v any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, v)
		argIdx++
	}

	if in.Email != nil {
		add("email", strings.ToLower(strings.TrimSpace(*in.Email)))
	}
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		add("password_hash", string(hash))
	}
	if in.Name != nil {
		add("name", *in.Name)
	}
	if in.FirstName != nil {
		add("first_name", *in.FirstName)
	}
	if in.LastName != nil {
		add("last_name", *in.LastName)
	}
	if in.Image != nil {
		add("image", *in.Image)
	}
	if in.Phone != nil {
		add("phone", *in.Phone)
	}
	if in.Memberships != nil {
		membershipsJSON, err := marshalMemberships(*in.Memberships)
		if err != nil {
			return nil, fmt.Errorf("marshaling memberships: %w", err)
		}
		add("org_memberships", membershipsJSON)
	}
	if in.ActiveOrgID != nil {
		add("active_org_id", *in.ActiveOrgID)
	}
	if in.IsOnboardingComplete != nil {
		add("is_onboarding_complete", *in.IsOnboardingComplete)
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, q, id)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), argIdx, userColumns)

	u, err := scanUser(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating user: %w", err)
	}
	return u, nil
}

// SetMemberships replaces the user's membership list.
func (s *Store) SetMemberships(ctx context.Context, q database.Querier, id string, ms []Membership) error {
	membershipsJSON, err := marshalMemberships(ms)
	if err != nil {
		return fmt.Errorf("marshaling memberships: %w", err)
	}
	tag, err := q.Exec(ctx,
		`UPDATE users SET org_memberships = $1, updated_at = now() WHERE id = $2`,
		membershipsJSON, id)
	if err != nil {
		return fmt.Errorf("setting memberships: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActiveOrg updates the user's active organization. Pass "" to clear it.
func (s *Store) SetActiveOrg(ctx context.Context, q database.Querier, id, orgID string) error {
	tag, err := q.Exec(ctx,
		`UPDATE users SET active_org_id = $1, updated_at = now() WHERE id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("setting active org: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CheckPassword verifies a plaintext password against the user's stored hash.
// Users without a password (invitation placeholders) never match.
func CheckPassword(u *User, password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// CreateSession creates a new session for the given user. It returns the
// opaque plaintext token (to be sent to the client) and the stored session.
func (s *Store) CreateSession(ctx context.Context, q database.Querier, userID string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	plaintext := hex.EncodeToString(b)
	tokenHash := hashToken(plaintext)

	now := time.Now()
	expiresAt := now.Add(sessionDuration)

	sess := &Session{}
	err := q.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, last_seen_at, expires_at)
		 VALUES ($1, $2, $3, $3, $4)
		 RETURNING token_hash, user_id, created_at, last_seen_at, expires_at`,
		tokenHash, userID, now, expiresAt,
	).Scan(&sess.TokenHash, &sess.UserID, &sess.CreatedAt, &sess.LastSeenAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}

	return plaintext, sess, nil
}

// GetSessionUser looks up a session by its plaintext token, touches its
// last-seen time and returns the associated user. Returns ErrNotFound when
// the session is expired or missing.
func (s *Store) GetSessionUser(ctx context.Context, q database.Querier, plaintext string) (*User, error) {
	tokenHash := hashToken(plaintext)

	u, err := scanUser(q.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users u
		 JOIN sessions s ON s.user_id = u.id
		 WHERE s.token_hash = $1 AND s.expires_at > now()`,
			prefixColumns("u", userColumns)),
		tokenHash,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting session user: %w", err)
	}

	// Touch outside the session lookup; a failed touch is not fatal.
	_, _ = q.Exec(ctx, `UPDATE sessions SET last_seen_at = now() WHERE token_hash = $1`, tokenHash)

	return u, nil
}

// DeleteSession removes a session by its plaintext token.
func (s *Store) DeleteSession(ctx context.Context, q database.Querier, plaintext string) error {
	tokenHash := hashToken(plaintext)
	_, err := q.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all sessions past their expiry.
func (s *Store) CleanExpiredSessions(ctx context.Context, q database.Querier) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteInactiveSessions deletes sessions not seen for the given number of
// days, regardless of expiry.
func (s *Store) DeleteInactiveSessions(ctx context.Context, q database.Querier, daysInactive int) (int64, error) {
	tag, err := q.Exec(ctx,
		`DELETE FROM sessions WHERE last_seen_at < now() - make_interval(days => $1)`,
		daysInactive)
	if err != nil {
		return 0, fmt.Errorf("deleting inactive sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias for use in joins.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
