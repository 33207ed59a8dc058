package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"remit/internal/transfer/domain"
)

const userColumns = `id, name, email, password_hash, balance, initial_balance, created_at`

// UserRepository implements domain.UserRepository using PostgreSQL.
type UserRepository struct {
	db Executor
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db Executor) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Balance, &u.InitialBalance, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user and fills in the generated id and timestamp.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, balance, initial_balance)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		user.Name, user.Email, user.PasswordHash, user.Balance, user.InitialBalance,
	).Scan(&user.ID, &user.CreatedAt)
	if isUniqueViolation(err, "users_email_key") {
		return domain.ErrEmailInUse
	}
	return classifyError(err)
}

// FindByID retrieves a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return user, nil
}

// FindByEmail retrieves a user by exact email match.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return user, nil
}

// LockByIDs locks the user rows one by one in the order given. Callers pass
// ids sorted ascending; locking sequentially in that order is what makes the
// canonical lock order real at the database level.
func (r *UserRepository) LockByIDs(ctx context.Context, ids []int64) (map[int64]*domain.User, error) {
	users := make(map[int64]*domain.User, len(ids))
	for _, id := range ids {
		user, err := scanUser(r.db.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, classifyError(err)
		}
		users[user.ID] = user
	}
	return users, nil
}

// UpdateBalance persists a new balance for a row the caller holds locked.
func (r *UserRepository) UpdateBalance(ctx context.Context, userID int64, balance int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET balance = $2 WHERE id = $1`, userID, balance)
	if err != nil {
		return classifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Verify interface implementation.
var _ domain.UserRepository = (*UserRepository)(nil)
