package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"remit/internal/transfer/domain"
)

// TokenRepository implements domain.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db Executor
}

// NewTokenRepository creates a new PostgreSQL token repository.
func NewTokenRepository(db Executor) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert stores a token digest for a user.
func (r *TokenRepository) Insert(ctx context.Context, token *domain.Token) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO auth_tokens (user_id, token_hash)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		token.UserID, token.TokenHash,
	).Scan(&token.ID, &token.CreatedAt)
	return classifyError(err)
}

// FindUserByHash resolves a live, non-revoked token digest to its owner.
func (r *TokenRepository) FindUserByHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx,
		`SELECT u.id, u.name, u.email, u.password_hash, u.balance, u.initial_balance, u.created_at
		 FROM users u
		 JOIN auth_tokens t ON t.user_id = u.id
		 WHERE t.token_hash = $1 AND t.revoked_at IS NULL`,
		tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return user, nil
}

// Revoke revokes the specific token. Other tokens of the user survive.
// Revoking an already-revoked or unknown token is a no-op.
func (r *TokenRepository) Revoke(ctx context.Context, userID int64, tokenHash string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE auth_tokens SET revoked_at = NOW()
		 WHERE user_id = $1 AND token_hash = $2 AND revoked_at IS NULL`,
		userID, tokenHash)
	return classifyError(err)
}

// Verify interface implementation.
var _ domain.TokenRepository = (*TokenRepository)(nil)
