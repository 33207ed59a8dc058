// Package identity creates and authenticates users, issues and revokes bearer
// tokens, and resolves transfer receivers by email.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"remit/internal/common/logging"
	"remit/internal/transfer/domain"
)

// Validation constraints for registration.
const (
	minNameLength     = 2
	minPasswordLength = 8
)

// emailPattern is deliberately liberal; the unique index is the real gate.
var emailPattern = regexp.MustCompile(`.+@.+\..+`)

// Service implements registration, login, token authentication, and receiver
// resolution.
type Service struct {
	store      domain.DataStore
	bcryptCost int
}

// NewService creates a Service. cost is the bcrypt work factor; values below
// bcrypt.MinCost fall back to bcrypt.DefaultCost.
func NewService(store domain.DataStore, cost int) *Service {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: store, bcryptCost: cost}
}

// Register creates a user with a zero starting balance and issues a bearer
// token. Returns ErrValidation on constraint failures and ErrEmailInUse on a
// duplicate email.
func (s *Service) Register(ctx context.Context, name, email, password string) (*domain.User, string, error) {
	if len(name) < minNameLength {
		return nil, "", fmt.Errorf("%w: name must be at least %d characters", domain.ErrValidation, minNameLength)
	}
	if !emailPattern.MatchString(email) {
		return nil, "", fmt.Errorf("%w: email is not valid", domain.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return nil, "", fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	token := newToken()

	err = s.store.Atomic(ctx, func(repos domain.Repositories) error {
		if err := repos.Users().Create(ctx, user); err != nil {
			return err
		}
		return repos.Tokens().Insert(ctx, &domain.Token{
			UserID:    user.ID,
			TokenHash: HashToken(token),
		})
	})
	if err != nil {
		return nil, "", err
	}

	logging.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, token, nil
}

// Login verifies credentials and issues a fresh bearer token. A missing user
// and a wrong password both return ErrInvalidCredentials; the verifier runs
// either way so the two cases take comparable time.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		// Burn a comparison against a fixed hash to avoid a timing tell.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, "", domain.ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", domain.ErrInvalidCredentials
	}

	token := newToken()
	err = s.store.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Tokens().Insert(ctx, &domain.Token{
			UserID:    user.ID,
			TokenHash: HashToken(token),
		})
	})
	if err != nil {
		return nil, "", err
	}

	logging.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return user, token, nil
}

// dummyHash is a bcrypt hash of an unguessable value, used only to equalize
// login timing when the email is unknown.
var dummyHash = func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte(rand.Text()), bcrypt.MinCost)
	return h
}()

// Authenticate resolves a live, non-revoked bearer token to its owner.
// Returns ErrUserNotFound for unknown or revoked tokens.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	return s.store.Tokens().FindUserByHash(ctx, HashToken(token))
}

// Logout revokes the specific token used to make the call. The user's other
// tokens survive.
func (s *Service) Logout(ctx context.Context, userID int64, token string) error {
	return s.store.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Tokens().Revoke(ctx, userID, HashToken(token))
	})
}

// ResolveReceiver returns the user holding email. Fails with ErrSelfTransfer
// when the caller addresses themselves and ErrReceiverNotFound when absent.
func (s *Service) ResolveReceiver(ctx context.Context, email string, caller *domain.User) (*domain.User, error) {
	if email == caller.Email {
		return nil, domain.ErrSelfTransfer
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return nil, domain.ErrReceiverNotFound
	}
	return user, nil
}

// newToken returns an opaque 256-bit bearer token, hex-encoded.
func newToken() string {
	var buf [32]byte
	rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// HashToken returns the SHA-256 digest stored in place of the raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
