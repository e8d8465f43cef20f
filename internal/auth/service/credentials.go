package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/aussiebroadwan/atrium/internal/auth/domain"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/idx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// CredentialService owns user records and password verification.
type CredentialService struct {
	Store        store.Store
	Hasher       *cryptox.Hasher
	StoreTimeout time.Duration
	Now          func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// ValidateCredentials returns the user when password matches. Unknown emails,
// wrong passwords and unreadable hashes are all ErrInvalidCredentials.
func (s *CredentialService) ValidateCredentials(ctx context.Context, email, password string) (domain.User, error) {
	log := slogx.FromContext(ctx)

	sctx, cancel := storeContext(ctx, s.StoreTimeout)
	defer cancel()

	user, err := s.Store.Users().GetUserByEmail(sctx, domain.NormaliseEmail(email))
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Spend the same time as a real verify.
		_ = s.Hasher.Verify(password, s.dummy())
		return domain.User{}, ErrInvalidCredentials
	case err != nil:
		log.Error("credential lookup failed", slog.Any("error", err))
		return domain.User{}, unavailable(err)
	}

	if err := s.Hasher.Verify(password, user.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			log.Warn("stored password hash unreadable", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return domain.User{}, ErrInvalidCredentials
	}

	if s.Hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, password)
	}
	return user, nil
}

// rehash upgrades a legacy or weaker hash after a successful login. Failures
// only cost the upgrade.
func (s *CredentialService) rehash(ctx context.Context, userID, password string) {
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return
	}
	sctx, cancel := storeContext(ctx, s.StoreTimeout)
	defer cancel()
	if err := s.Store.Users().UpdatePasswordHash(sctx, userID, hash, clock(s.Now).now()); err != nil {
		slogx.FromContext(ctx).Warn("password rehash failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

// CreateUser validates and stores a new user.
func (s *CredentialService) CreateUser(ctx context.Context, email, password string, role domain.Role, name string) (domain.User, error) {
	email = domain.NormaliseEmail(email)
	if err := ValidateEmail(email); err != nil {
		return domain.User{}, err
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return domain.User{}, err
	}
	if !role.Valid() {
		return domain.User{}, ErrInvalidRole
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}

	now := clock(s.Now).now()
	user := domain.User{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	sctx, cancel := storeContext(ctx, s.StoreTimeout)
	defer cancel()

	err = s.Store.Users().CreateUser(sctx, user)
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		return domain.User{}, ErrDuplicateEmail
	case err != nil:
		return domain.User{}, unavailable(err)
	}
	return user, nil
}

// HashPassword produces an argon2id PHC string.
func (s *CredentialService) HashPassword(password string) (string, error) {
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// ChangePassword applies the policy and stores the new hash inside tx.
func (s *CredentialService) ChangePassword(ctx context.Context, tx store.Tx, userID, newPassword string) error {
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = tx.Users().UpdatePasswordHash(ctx, userID, hash, clock(s.Now).now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("change password: %w", err)
	case err != nil:
		return unavailable(err)
	}
	return nil
}

// LookupUser fetches the current user record.
func (s *CredentialService) LookupUser(ctx context.Context, userID string) (domain.User, error) {
	sctx, cancel := storeContext(ctx, s.StoreTimeout)
	defer cancel()

	user, err := s.Store.Users().GetUserByID(sctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.User{}, err
	case err != nil:
		return domain.User{}, unavailable(err)
	}
	return user, nil
}

// LookupUserByEmail fetches a user by email, case-insensitively.
func (s *CredentialService) LookupUserByEmail(ctx context.Context, email string) (domain.User, error) {
	sctx, cancel := storeContext(ctx, s.StoreTimeout)
	defer cancel()

	user, err := s.Store.Users().GetUserByEmail(sctx, domain.NormaliseEmail(email))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.User{}, err
	case err != nil:
		return domain.User{}, unavailable(err)
	}
	return user, nil
}

func (s *CredentialService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("atrium-timing-equaliser")
	})
	return s.dummyHash
}

// ValidateEmail accepts a bare addr-spec. Display names and angle brackets
// are rejected.
func ValidateEmail(email string) error {
	if email == "" || len(email) > 254 {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ErrInvalidEmail
	}
	return nil
}

// CheckPasswordPolicy returns a *PasswordPolicyError listing every rule the
// password breaks, or nil.
func CheckPasswordPolicy(password string) error {
	var problems []string

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if n > MaxPasswordLength {
		problems = append(problems, fmt.Sprintf("must be at most %d characters", MaxPasswordLength))
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !lower {
		problems = append(problems, "must contain a lowercase letter")
	}
	if !digit {
		problems = append(problems, "must contain a digit")
	}

	if len(problems) > 0 {
		return &PasswordPolicyError{Problems: problems}
	}
	return nil
}
