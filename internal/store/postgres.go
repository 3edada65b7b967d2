package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ── Refresh sessions ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ── Canvases ──

func (s *PostgresStore) ListCanvases(ctx context.Context) ([]Canvas, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, description, thumbnail, created_at, updated_at
		FROM canvases
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	defer rows.Close()

	var items []Canvas
	for rows.Next() {
		var item Canvas
		if err := rows.Scan(&item.ID, &item.URL, &item.Description, &item.Thumbnail, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan canvas: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetCanvas(ctx context.Context, canvasID string) (Canvas, error) {
	var item Canvas
	err := s.db.QueryRowContext(ctx, `
		SELECT id, url, description, thumbnail, created_at, updated_at
		FROM canvases WHERE id=$1
	`, canvasID).Scan(&item.ID, &item.URL, &item.Description, &item.Thumbnail, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Canvas{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCanvas(ctx context.Context, item Canvas) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canvases (id, url, description, thumbnail)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.URL, item.Description, item.Thumbnail)
	if err != nil {
		return fmt.Errorf("insert canvas: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCanvas(ctx context.Context, canvasID, url string, description *string) (Canvas, error) {
	var item Canvas
	err := s.db.QueryRowContext(ctx, `
		UPDATE canvases SET url=$2, description=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING id, url, description, thumbnail, created_at, updated_at
	`, canvasID, url, description).Scan(&item.ID, &item.URL, &item.Description, &item.Thumbnail, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Canvas{}, err
	}
	return item, nil
}

// SetCanvasThumbnail swaps in the freshly captured thumbnail and returns the
// previous reference so the caller can release the old blob.
func (s *PostgresStore) SetCanvasThumbnail(ctx context.Context, canvasID, thumbnail string) (previous *string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin thumbnail tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.QueryRowContext(ctx, `SELECT thumbnail FROM canvases WHERE id=$1 FOR UPDATE`, canvasID).Scan(&previous); err != nil {
		return nil, fmt.Errorf("read prior thumbnail: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE canvases SET thumbnail=$2, updated_at=NOW() WHERE id=$1`, canvasID, thumbnail); err != nil {
		return nil, fmt.Errorf("set thumbnail: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit thumbnail tx: %w", err)
	}
	return previous, nil
}

// DeleteCanvas removes the canvas row and returns the stored thumbnail
// reference, if any. Comments go with it via the FK cascade.
func (s *PostgresStore) DeleteCanvas(ctx context.Context, canvasID string) (*string, error) {
	var thumbnail *string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM canvases WHERE id=$1 RETURNING thumbnail
	`, canvasID).Scan(&thumbnail)
	if err != nil {
		return nil, err
	}
	return thumbnail, nil
}

// ── Comments ──

func (s *PostgresStore) ListComments(ctx context.Context, canvasID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.canvas_id, c.user_id, c.page_url, c.x_position, c.y_position,
			c.content, c.resolved, c.created_at, c.updated_at, u.display_name
		FROM comments c
		LEFT JOIN users u ON u.id = c.user_id
		WHERE c.canvas_id = $1
		ORDER BY c.created_at ASC, c.id ASC
	`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var items []Comment
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.CanvasID, &item.UserID, &item.PageURL, &item.X, &item.Y,
			&item.Content, &item.Resolved, &item.CreatedAt, &item.UpdatedAt, &item.UserName); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetComment(ctx context.Context, canvasID, commentID string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.canvas_id, c.user_id, c.page_url, c.x_position, c.y_position,
			c.content, c.resolved, c.created_at, c.updated_at, u.display_name
		FROM comments c
		LEFT JOIN users u ON u.id = c.user_id
		WHERE c.id = $1 AND c.canvas_id = $2
	`, commentID, canvasID).Scan(&item.ID, &item.CanvasID, &item.UserID, &item.PageURL, &item.X, &item.Y,
		&item.Content, &item.Resolved, &item.CreatedAt, &item.UpdatedAt, &item.UserName)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, canvas_id, user_id, page_url, x_position, y_position, content, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, item.ID, item.CanvasID, item.UserID, item.PageURL, item.X, item.Y, item.Content, item.Resolved).
		Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, canvasID, commentID string, content *string, resolved *bool) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		UPDATE comments
		SET content = COALESCE($3, content),
			resolved = COALESCE($4, resolved),
			updated_at = NOW()
		WHERE id = $1 AND canvas_id = $2
		RETURNING id, canvas_id, user_id, page_url, x_position, y_position, content, resolved, created_at, updated_at
	`, commentID, canvasID, content, resolved).Scan(&item.ID, &item.CanvasID, &item.UserID, &item.PageURL,
		&item.X, &item.Y, &item.Content, &item.Resolved, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, canvasID, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1 AND canvas_id=$2`, commentID, canvasID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
