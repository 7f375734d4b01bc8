package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/repository"
)

const (
	// Token lengths
	refreshTokenLen = 32

	// Default token lifetimes
	DefaultAccessTokenTTL      = 15 * time.Minute
	DefaultRefreshTokenTTL     = 30 * 24 * time.Hour
	DefaultEphemeralSessionTTL = 12 * time.Hour
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	AccessTokenTTL time.Duration
	// RefreshTokenTTL bounds remembered sessions.
	RefreshTokenTTL time.Duration
	// EphemeralSessionTTL bounds sessions created without remember-me.
	EphemeralSessionTTL time.Duration
	JWTSecret           []byte
	Issuer              string
}

// SessionService handles session management. Every sign-in method ends in
// IssueSession.
type SessionService struct {
	config   SessionConfig
	sessions *repository.SessionsRepository
	users    *repository.UsersRepository
	now      func() time.Time
}

// NewSessionService creates a new session service.
func NewSessionService(config SessionConfig, sessions *repository.SessionsRepository, users *repository.UsersRepository) *SessionService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.EphemeralSessionTTL == 0 {
		config.EphemeralSessionTTL = DefaultEphemeralSessionTTL
	}
	return &SessionService{
		config:   config,
		sessions: sessions,
		users:    users,
		now:      time.Now,
	}
}

// AccessTokenTTL returns the access token TTL.
func (s *SessionService) AccessTokenTTL() time.Duration {
	return s.config.AccessTokenTTL
}

// SessionTTL returns the session lifetime for a durability.
func (s *SessionService) SessionTTL(d domain.Durability) time.Duration {
	if d == domain.DurabilityRemembered {
		return s.config.RefreshTokenTTL
	}
	return s.config.EphemeralSessionTTL
}

// IssueSessionOpts holds options for session issuance.
type IssueSessionOpts struct {
	TenantID   uuid.UUID
	Durability domain.Durability
	AuthMethod domain.AuthMethodKind
	IP         string
	UserAgent  string
}

// AccessTokenClaims represents the claims in an access token. The token ID
// is the session ID.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email      string            `json:"email,omitempty"`
	Name       string            `json:"name,omitempty"`
	TenantID   string            `json:"tid,omitempty"`
	AMR        []string          `json:"amr,omitempty"`
	Durability domain.Durability `json:"dur,omitempty"`
}

// SessionID returns the session the token belongs to.
func (c *AccessTokenClaims) SessionID() (uuid.UUID, error) {
	return uuid.Parse(c.ID)
}

// UserID returns the token subject.
func (c *AccessTokenClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Tenant returns the tenant the token acts within.
func (c *AccessTokenClaims) Tenant() (uuid.UUID, error) {
	return uuid.Parse(c.TenantID)
}

// MethodHint returns the first amr value, or "".
func (c *AccessTokenClaims) MethodHint() string {
	if len(c.AMR) == 0 {
		return ""
	}
	return c.AMR[0]
}

// IssueSession creates a new session and returns access/refresh tokens.
func (s *SessionService) IssueSession(ctx context.Context, userID uuid.UUID, opts IssueSessionOpts) (*domain.TokenPair, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if opts.Durability == "" {
		opts.Durability = domain.DurabilityEphemeral
	}
	if !opts.AuthMethod.Valid() {
		opts.AuthMethod = domain.DefaultAuthMethod
	}

	refreshToken, err := GenerateToken(refreshTokenLen)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &domain.Session{
		ID:         uuid.New(),
		UserID:     userID,
		TenantID:   opts.TenantID,
		TokenHash:  HashToken(refreshToken),
		Durability: opts.Durability,
		AuthMethod: opts.AuthMethod,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.SessionTTL(opts.Durability)),
	}
	if opts.IP != "" || opts.UserAgent != "" {
		metadata, _ := json.Marshal(domain.SessionMetadata{IP: opts.IP, UserAgent: opts.UserAgent})
		session.Metadata = metadata
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return s.tokenPair(user, session, refreshToken, now)
}

// RefreshSession mints a new access token from a refresh token.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	session, err := s.sessions.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		return nil, err
	}
	if err := checkSession(session); err != nil {
		return nil, err
	}

	_ = s.sessions.UpdateLastSeen(ctx, session.ID)

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return s.tokenPair(user, session, refreshToken, s.now())
}

// SwitchTenant points a session at another tenant and returns an access
// token carrying it. The refresh token is unchanged and not returned.
func (s *SessionService) SwitchTenant(ctx context.Context, sessionID, tenantID uuid.UUID) (*domain.TokenPair, error) {
	if err := s.sessions.UpdateTenant(ctx, sessionID, tenantID); err != nil {
		return nil, err
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkSession(session); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return s.tokenPair(user, session, "", s.now())
}

// GetSession loads a session by ID and checks it is still usable.
func (s *SessionService) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// RevokeSession revokes a session by refresh token.
func (s *SessionService) RevokeSession(ctx context.Context, refreshToken string) error {
	return s.sessions.RevokeByTokenHash(ctx, HashToken(refreshToken))
}

// RevokeSessionByID revokes a session by ID.
func (s *SessionService) RevokeSessionByID(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// RevokeAllSessions revokes all sessions for a user.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAllByUserID(ctx, userID)
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *SessionService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	if _, err := claims.SessionID(); err != nil {
		return nil, domain.ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}

func (s *SessionService) tokenPair(user *domain.User, session *domain.Session, refreshToken string, now time.Time) (*domain.TokenPair, error) {
	expiry := now.Add(s.config.AccessTokenTTL)
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			Issuer:    s.config.Issuer,
			ID:        session.ID.String(),
		},
		Email:      user.Email,
		Name:       user.DisplayName(),
		TenantID:   session.TenantID.String(),
		AMR:        []string{string(session.AuthMethod)},
		Durability: session.Durability,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.AccessTokenTTL.Seconds()),
		ExpiresAt:    expiry,
		SessionID:    session.ID,
		Durability:   session.Durability,
	}, nil
}

func checkSession(session *domain.Session) error {
	if session.IsValid() {
		return nil
	}
	if session.RevokedAt != nil {
		return domain.ErrSessionRevoked
	}
	return domain.ErrSessionExpired
}
