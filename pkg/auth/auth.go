// Package auth registers shop users and resolves bearer tokens to user ids.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"storefront/pkg/storage"
	"storefront/pkg/storage/query"
)

var (
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnauthorized covers missing, unknown and expired tokens alike.
	ErrUnauthorized = errors.New("unauthorized")
	ErrUserNotFound = errors.New("user not found")
)

type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

// IsValidation reports whether err came from rejected input.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

// User is the public view of an account.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	ShopName  string    `json:"shop_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is what a successful login returns.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Registration is the sign-up form.
type Registration struct {
	Name     string
	Email    string
	Password string
	ShopName string
}

const (
	minPasswordLength = 8
	// bcrypt only accepts up to 72 bytes of input.
	maxPasswordBytes = 72
)

// Repository stores users and sessions.
type Repository struct {
	db *storage.DB
}

func NewRepository(db *storage.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) insertUser(ctx context.Context, u User, hash string) (int64, error) {
	return r.db.Insert(ctx, r.db, query.UserInsert, u.Name, u.Email, hash, u.ShopName, u.CreatedAt)
}

func (r *Repository) user(ctx context.Context, stmt string, arg any) (User, string, error) {
	var (
		u    User
		hash string
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(stmt), arg).
		Scan(&u.ID, &u.Name, &u.Email, &hash, &u.ShopName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, "", ErrUserNotFound
	}
	if err != nil {
		return User{}, "", fmt.Errorf("load user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, hash, nil
}

func (r *Repository) updateProfile(ctx context.Context, id int64, name, shop string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query.UserUpdateProfile), name, shop, id)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) insertSession(ctx context.Context, token string, userID int64, expires time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query.SessionInsert), token, userID, expires)
	return err
}

func (r *Repository) session(ctx context.Context, token string) (int64, time.Time, error) {
	var (
		userID  int64
		expires time.Time
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query.SessionByToken), token).Scan(&userID, &expires)
	return userID, expires, err
}

func (r *Repository) deleteSession(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query.SessionDelete), token)
	return err
}

// Option tunes the Service.
type Option func(*Service)

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements registration, login and token verification.
type Service struct {
	repo   *Repository
	ttl    time.Duration
	cost   int
	now    func() time.Time
	logger *log.Logger
}

// NewService creates the auth service; sessions live for ttl.
func NewService(repo *Repository, ttl time.Duration, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Service{repo: repo, ttl: ttl, cost: bcrypt.DefaultCost, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and returns its public view.
func (s *Service) Register(ctx context.Context, in Registration) (User, error) {
	u := User{
		Name:      strings.TrimSpace(in.Name),
		Email:     normalizeEmail(in.Email),
		ShopName:  strings.TrimSpace(in.ShopName),
		CreatedAt: s.now().UTC(),
	}
	if u.Name == "" {
		return User{}, validationError{"name is required"}
	}
	addr, err := mail.ParseAddress(u.Email)
	if err != nil {
		return User{}, validationError{"a valid email is required"}
	}
	// "Ann <ann@example.com>" registers as ann@example.com.
	u.Email = normalizeEmail(addr.Address)
	if len(in.Password) < minPasswordLength {
		return User{}, validationError{fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}
	if len(in.Password) > maxPasswordBytes {
		return User{}, validationError{fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.repo.insertUser(ctx, u, string(hash))
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	u.ID = id
	s.logger.Printf("user %d registered (%s)", u.ID, u.Email)
	return u, nil
}

// Login checks the password and opens a new session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, hash, err := s.repo.user(ctx, query.UserByEmail, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	expires := s.now().UTC().Add(s.ttl)
	if err := s.repo.insertSession(ctx, token, u.ID, expires); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	s.logger.Printf("user %d logged in", u.ID)
	return Session{Token: token, ExpiresAt: expires, User: u}, nil
}

// Logout revokes the token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.repo.deleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Authenticate maps a bearer token to its user id.
func (s *Service) Authenticate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrUnauthorized
	}
	userID, expires, err := s.repo.session(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnauthorized
	}
	if err != nil {
		return 0, fmt.Errorf("load session: %w", err)
	}
	if !s.now().Before(expires) {
		if err := s.repo.deleteSession(ctx, token); err != nil {
			s.logger.Printf("expired session cleanup failed: %v", err)
		}
		return 0, ErrUnauthorized
	}
	if _, _, err := s.repo.user(ctx, query.UserByID, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, ErrUnauthorized
		}
		return 0, err
	}
	return userID, nil
}

// Profile returns the public view of a user.
func (s *Service) Profile(ctx context.Context, userID int64) (User, error) {
	u, _, err := s.repo.user(ctx, query.UserByID, userID)
	return u, err
}

// UpdateProfile changes the display name and shop name.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, name, shopName string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, validationError{"name is required"}
	}
	if err := s.repo.updateProfile(ctx, userID, name, strings.TrimSpace(shopName)); err != nil {
		return User{}, err
	}
	return s.Profile(ctx, userID)
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
