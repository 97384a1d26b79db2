package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

const MinPasswordLength = 8

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Repository is the persistence contract for accounts.
type Repository interface {
	Create(ctx context.Context, u *entity.User) (ident.ID, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id ident.ID) (*entity.User, error)
	GetMinimalAuthView(ctx context.Context, id ident.ID) (*entity.MinimalAuthView, error)
	IncrementFailedLogin(ctx context.Context, id ident.ID) (int, error)
	LockIfThreshold(ctx context.Context, id ident.ID, threshold int, lockMinutes int) (bool, error)
	ResetLoginSuccess(ctx context.Context, id ident.ID) error
	MarkEmailVerified(ctx context.Context, id ident.ID) error
	SetGlobalRole(ctx context.Context, id ident.ID, role entity.GlobalRole) error
}

var (
	ErrBadCredentials = apperr.Unauthenticated("invalid_credentials", "invalid credentials")
	ErrLocked         = &apperr.Error{Kind: apperr.KindForbidden, Code: "account_locked", Reason: apperr.ReasonInactiveUser, Message: "account locked"}
	ErrInactive       = apperr.Forbidden(apperr.ReasonInactiveUser, "account is not active")
)

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	repo   Repository
	hasher PasswordHasher
	logger *zap.SugaredLogger
	now    func() time.Time
	// configuration knobs
	MaxFailed   int
	LockMinutes int
}

func NewUserService(r Repository, hasher PasswordHasher, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{repo: r, hasher: hasher, logger: logger, now: time.Now, MaxFailed: 6, LockMinutes: 15}
}

// AuthenticatePassword checks credentials. On success it resets the
// failure counters and returns the account.
func (s *UserService) AuthenticatePassword(ctx context.Context, email, password string) (*entity.User, error) {
	email = entity.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, err
	}
	if u.IsLocked(s.now()) {
		return nil, ErrLocked
	}
	if u.PasswordHash == nil || *u.PasswordHash == "" {
		return nil, ErrBadCredentials
	}
	if !s.hasher.Verify(*u.PasswordHash, password) {
		if _, incErr := s.repo.IncrementFailedLogin(ctx, u.ID); incErr == nil {
			if locked, _ := s.repo.LockIfThreshold(ctx, u.ID, s.MaxFailed, s.LockMinutes); locked {
				s.logger.Warnw("account locked after failed logins", "user_id", u.ID)
			}
		}
		return nil, ErrBadCredentials
	}
	if !u.IsActive() {
		return nil, ErrInactive
	}
	if err := s.repo.ResetLoginSuccess(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// RegisterInput carries the fields needed to create an account.
type RegisterInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	Phone     *string
	// Verified is set when the caller already holds proof of email
	// ownership; the account is then created active.
	Verified bool
	Role     entity.GlobalRole
}

// Validate checks registration fields.
func (in RegisterInput) Validate() error {
	if _, err := mail.ParseAddress(in.Email); err != nil || !strings.Contains(in.Email, "@") {
		return apperr.Validation("invalid_email", "email is invalid")
	}
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return apperr.Validation("name_required", "firstName and lastName are required")
	}
	if len(in.Password) < MinPasswordLength {
		return apperr.Validation("weak_password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	return nil
}

// Register creates an account with a hashed password.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	in.Email = entity.NormalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	hash, algo, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	role := in.Role
	if role == "" {
		role = entity.RoleUser
	}
	status := entity.StatusPendingEmail
	if in.Verified {
		status = entity.StatusActive
	}
	now := s.now()
	u := &entity.User{
		Email:         in.Email,
		EmailVerified: in.Verified,
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Phone:         in.Phone,
		PasswordHash:  &hash,
		PasswordAlgo:  &algo,
		Status:        status,
		GlobalRole:    role,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureAdmin creates the bootstrap administrator when it does not exist.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) (*entity.User, bool, error) {
	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}
	u, err := s.Register(ctx, RegisterInput{
		Email: email, FirstName: "System", LastName: "Administrator",
		Password: password, Verified: true, Role: entity.RoleAdmin,
	})
	if err != nil {
		return nil, false, err
	}
	s.logger.Infow("bootstrap admin created", "user_id", u.ID)
	return u, true, nil
}

// GetByEmail looks an account up by its normalized email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return s.repo.GetByEmail(ctx, entity.NormalizeEmail(email))
}

func (s *UserService) GetByID(ctx context.Context, id ident.ID) (*entity.User, error) {
	return s.repo.GetByID(ctx, id)
}

// ConfirmEmail records that the holder of an emailed credential owns the
// address, activating a pending account.
func (s *UserService) ConfirmEmail(ctx context.Context, u *entity.User) error {
	if u.Status == entity.StatusDeactivated {
		return ErrInactive
	}
	if u.EmailVerified && u.IsActive() {
		return nil
	}
	if err := s.repo.MarkEmailVerified(ctx, u.ID); err != nil {
		return err
	}
	u.EmailVerified = true
	u.Status = entity.StatusActive
	return nil
}

// PromoteToAdmin grants the global admin role.
func (s *UserService) PromoteToAdmin(ctx context.Context, u *entity.User) error {
	if u.GlobalRole == entity.RoleAdmin {
		return nil
	}
	if err := s.repo.SetGlobalRole(ctx, u.ID, entity.RoleAdmin); err != nil {
		return err
	}
	u.GlobalRole = entity.RoleAdmin
	u.Version++
	return nil
}

// GetMinimalAuthView retrieves the minimal projection for a user by ID.
func (s *UserService) GetMinimalAuthView(ctx context.Context, id ident.ID) (*entity.MinimalAuthView, error) {
	return s.repo.GetMinimalAuthView(ctx, id)
}
