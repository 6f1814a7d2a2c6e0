package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/authclient"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/token"
)

const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,50}$`)

// Config holds the issuer's token lifetimes and hashing cost.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// Service is the token issuer: it authenticates credentials, registers
// accounts, mints token pairs and answers validation requests.
type Service struct {
	repo       Repository
	codec      *token.Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
	cost       int
	now        func() time.Time
	logger     zerolog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(repo Repository, codec *token.Codec, cfg Config, logger zerolog.Logger) *Service {
	s := &Service{
		repo:       repo,
		codec:      codec,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		cost:       cfg.BcryptCost,
		now:        time.Now,
		logger:     logger.With().Str("component", "issuer").Logger(),
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	return s
}

// SetClock overrides the time source used for login timestamps.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AccessTTL returns the access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Authenticate checks identifier (username, then email) and secret. Lock
// state is checked before activity, and both only after the secret matched.
// Every credential failure against an existing account bumps its
// failed-attempt counter; no lockout is triggered from it.
func (s *Service) Authenticate(ctx context.Context, identifier, secret string) (*Principal, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}

	p, err := s.lookup(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		s.burnHash(secret)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(secret)) != nil {
		if err := s.repo.RecordLoginFailure(ctx, p.ID); err != nil {
			s.logger.Error().Err(err).Int64("user_id", p.ID).Msg("record login failure")
		}
		s.logger.Info().Int64("user_id", p.ID).Msg("login rejected: bad credentials")
		return nil, ErrInvalidCredentials
	}
	if p.Locked {
		return nil, ErrAccountLocked
	}
	if !p.Active {
		return nil, ErrAccountInactive
	}

	at := s.now().UTC()
	if err := s.repo.RecordLoginSuccess(ctx, p.ID, at); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	p.LoginCount++
	p.FailedLoginCount = 0
	p.LastLoginAt = &at
	return p, nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (*Principal, error) {
	p, err := s.repo.GetByUsername(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		return s.repo.GetByEmail(ctx, identifier)
	}
	return p, err
}

// burnHash spends the same time as a real comparison so that response
// latency does not reveal whether an identifier exists.
func (s *Service) burnHash(secret string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(secret))
}

// IssueTokenPair mints an access token carrying the principal's identity and
// roles, and a refresh token carrying only its id.
func (s *Service) IssueTokenPair(p *Principal) (*TokenPair, error) {
	access, err := s.codec.Encode(token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.Username},
		UserID:           p.ID,
		Email:            p.Email,
		AccountType:      p.AccountType,
		Roles:            p.Roles,
		TokenType:        token.TypeAccess,
	}, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("encode access token: %w", err)
	}

	refresh, err := s.codec.Encode(token.Claims{
		UserID:    p.ID,
		TokenType: token.TypeRefresh,
	}, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("encode refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

// Register creates a new active principal. Callers log it in with
// IssueTokenPair.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	p, err := s.buildPrincipal(req)
	if err != nil {
		return nil, err
	}

	taken, err := s.repo.ExistsByUsername(ctx, p.Username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, ErrDuplicateUsername
	}
	taken, err = s.repo.ExistsByEmail(ctx, p.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return nil, ErrDuplicateEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	p.PasswordHash = string(hash)

	if err := s.repo.Create(ctx, p); err != nil {
		var domainErr *Error
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, fmt.Errorf("create principal: %w", err)
	}
	s.logger.Info().Int64("user_id", p.ID).Str("username", p.Username).
		Strs("roles", p.Roles).Msg("account registered")
	return p, nil
}

func (s *Service) buildPrincipal(req RegisterRequest) (*Principal, error) {
	verr := &ValidationError{}

	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		verr.add("username must be 3-50 characters of letters, digits, '.', '_' or '-'")
	}

	email := strings.TrimSpace(req.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		verr.add("email must be a valid address")
	}

	switch n := len(req.Password); {
	case n < minPasswordLen:
		verr.add("password must be at least %d characters", minPasswordLen)
	case n > maxPasswordLen:
		verr.add("password must be at most %d bytes", maxPasswordLen)
	}

	roles := NormalizeRoles(req.Roles)
	if len(roles) == 0 {
		roles = []string{DefaultRole}
	}
	for _, r := range roles {
		if !KnownRole(r) {
			verr.add("unknown role %q", r)
		}
	}

	accountType := strings.ToUpper(strings.TrimSpace(req.AccountType))
	if accountType == "" {
		accountType = roles[0]
	}
	if !KnownRole(accountType) {
		verr.add("unknown account type %q", accountType)
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return &Principal{
		Username:    username,
		Email:       email,
		AccountType: accountType,
		Roles:       roles,
		Active:      true,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The principal is reloaded
// so that lock and activity changes take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *Principal, error) {
	claims, err := s.codec.Decode(refreshToken)
	if err != nil || !claims.IsRefresh() {
		return nil, nil, ErrInvalidRefresh
	}

	p, err := s.repo.GetByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrInvalidRefresh
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load principal: %w", err)
	}
	if p.Locked {
		return nil, nil, ErrAccountLocked
	}
	if !p.Active {
		return nil, nil, ErrAccountInactive
	}

	pair, err := s.IssueTokenPair(p)
	if err != nil {
		return nil, nil, err
	}
	return pair, p, nil
}

// Validate answers a validation request. Every failure is a valid=false
// verdict with a reason; nothing here produces an error.
func (s *Service) Validate(ctx context.Context, tok string) authclient.Verdict {
	claims, err := s.codec.Decode(tok)
	if err != nil {
		return authclient.Invalid(token.Reason(err))
	}
	if claims.IsRefresh() {
		return authclient.Invalid("Refresh tokens cannot be used for API access")
	}

	p, err := s.repo.GetByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		return authclient.Invalid("Account no longer exists")
	case err != nil:
		s.logger.Error().Err(err).Int64("user_id", claims.UserID).Msg("load principal for validation")
		return authclient.Invalid("Account state could not be verified")
	case p.Locked:
		return authclient.Invalid(ErrAccountLocked.Message)
	case !p.Active:
		return authclient.Invalid(ErrAccountInactive.Message)
	}

	exp := claims.ExpiresAt.Time
	return authclient.Verdict{
		Valid:       true,
		Username:    p.Username,
		Email:       p.Email,
		UserID:      p.ID,
		AccountType: p.AccountType,
		Roles:       p.Roles,
		Permissions: p.Permissions(),
		ExpiresAt:   &exp,
	}
}

// Me returns the principal with the given id.
func (s *Service) Me(ctx context.Context, id int64) (*Principal, error) {
	return s.repo.GetByID(ctx, id)
}

// Lock, Unlock, Activate and Deactivate are administrative state changes.
func (s *Service) Lock(ctx context.Context, id int64) (*Principal, error) {
	return s.update(ctx, id, "lock", func() error { return s.repo.SetLocked(ctx, id, true) })
}

func (s *Service) Unlock(ctx context.Context, id int64) (*Principal, error) {
	return s.update(ctx, id, "unlock", func() error { return s.repo.SetLocked(ctx, id, false) })
}

func (s *Service) Activate(ctx context.Context, id int64) (*Principal, error) {
	return s.update(ctx, id, "activate", func() error { return s.repo.SetActive(ctx, id, true) })
}

func (s *Service) Deactivate(ctx context.Context, id int64) (*Principal, error) {
	return s.update(ctx, id, "deactivate", func() error { return s.repo.SetActive(ctx, id, false) })
}

func (s *Service) update(ctx context.Context, id int64, action string, apply func() error) (*Principal, error) {
	if err := apply(); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", id).Str("action", action).Msg("account state changed")
	return s.repo.GetByID(ctx, id)
}
