package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"

	"docfish/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for the provided token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIToken stores a hashed token. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIToken(ctx context.Context, tx *sql.Tx, tok domain.APIToken) error {
	if tok.ID == "" {
		return errors.Wrap(domain.ErrBadParameter, "id required")
	}
	if tok.UserID == "" {
		return errors.Wrap(domain.ErrBadParameter, "user_id required")
	}
	if tok.KeyHash == "" {
		return errors.Wrap(domain.ErrBadParameter, "key_hash required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO api_tokens(id, user_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		tok.ID, tok.UserID, nullable(tok.Name), tok.KeyHash, tok.CreatedAt)
	return conflict(err, "token already registered")
}

// GetAPITokenByHash returns a token by its hashed value.
func (r Repo) GetAPITokenByHash(ctx context.Context, hash string) (domain.APIToken, error) {
	var tok domain.APIToken
	err := r.DB.QueryRowContext(ctx, `SELECT id, user_id, COALESCE(name,''), key_hash, created_at FROM api_tokens WHERE key_hash=? LIMIT 1`, hash).
		Scan(&tok.ID, &tok.UserID, &tok.Name, &tok.KeyHash, &tok.CreatedAt)
	return tok, notFound(err, "api token")
}

// ListAPITokens returns tokens, optionally filtered by user.
func (r Repo) ListAPITokens(ctx context.Context, userID string) ([]domain.APIToken, error) {
	b := queryBuilder().
		Select("id", "user_id", "COALESCE(name,'')", "key_hash", "created_at").
		From("api_tokens").
		OrderBy("created_at DESC")
	if userID != "" {
		b = b.Where(squirrel.Eq{"user_id": userID})
	}
	return selectAll(ctx, r.DB, b, func(rows *sql.Rows) (domain.APIToken, error) {
		var tok domain.APIToken
		err := rows.Scan(&tok.ID, &tok.UserID, &tok.Name, &tok.KeyHash, &tok.CreatedAt)
		return tok, err
	})
}

// DeleteAPIToken deletes a token owned by userID.
func (r Repo) DeleteAPIToken(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.Wrap(domain.ErrBadParameter, "id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM api_tokens WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "api token %s", id)
	}
	return nil
}
