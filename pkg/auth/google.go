package auth

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/repository"
	gocache "github.com/patrickmn/go-cache"
)

const (
	googleAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL  = "https://oauth2.googleapis.com/token"
	googleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer    = "https://accounts.google.com"
	googleIssuerAlt = "accounts.google.com"

	jwksCacheTTL = time.Hour
	jwksCacheKey = "jwks"
)

// GoogleConfig holds Google OAuth configuration. The endpoint fields
// default to Google's production URLs.
type GoogleConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	MobileClientIDs []string

	AuthURL  string
	TokenURL string
	JWKSURL  string
}

// ExternalIdentity is a verified identity returned by a provider.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
}

// GoogleClaims represents the claims from a Google ID token.
type GoogleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Nonce         string `json:"nonce"`
}

// GoogleService handles Google OAuth authentication.
type GoogleService struct {
	config      GoogleConfig
	db          *sql.DB
	users       *repository.UsersRepository
	identities  *repository.IdentitiesRepository
	provisioner *Provisioner
	httpClient  *http.Client
	keys        *gocache.Cache
	logger      *slog.Logger
}

// NewGoogleService creates a new Google service.
func NewGoogleService(
	config GoogleConfig,
	db *sql.DB,
	users *repository.UsersRepository,
	identities *repository.IdentitiesRepository,
	provisioner *Provisioner,
	logger *slog.Logger,
) *GoogleService {
	if config.AuthURL == "" {
		config.AuthURL = googleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = googleTokenURL
	}
	if config.JWKSURL == "" {
		config.JWKSURL = googleJWKSURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleService{
		config:      config,
		db:          db,
		users:       users,
		identities:  identities,
		provisioner: provisioner,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		keys:        gocache.New(jwksCacheTTL, 10*time.Minute),
		logger:      logger,
	}
}

// Enabled reports whether a client ID is configured.
func (s *GoogleService) Enabled() bool {
	return s.config.ClientID != ""
}

// AuthCodeURL builds the consent screen URL. loginHint pre-selects an
// account and may be empty.
func (s *GoogleService) AuthCodeURL(state, nonce, loginHint string) string {
	params := url.Values{
		"client_id":     {s.config.ClientID},
		"redirect_uri":  {s.config.RedirectURI},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"nonce":         {nonce},
		"prompt":        {"select_account"},
	}
	if loginHint != "" {
		params.Set("login_hint", loginHint)
	}
	return s.config.AuthURL + "?" + params.Encode()
}

// GoogleTokenResponse represents the response from Google token endpoint.
type GoogleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Exchange trades an authorization code for an ID token.
func (s *GoogleService) Exchange(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"redirect_uri":  {s.config.RedirectURI},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", domain.ErrOAuthProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: token exchange failed: %s", domain.ErrOAuthProvider, string(body))
	}

	var tokenResp GoogleTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", domain.ErrOAuthProvider, err)
	}
	if tokenResp.IDToken == "" {
		return "", fmt.Errorf("%w: token response has no id_token", domain.ErrOAuthProvider)
	}
	return tokenResp.IDToken, nil
}

// Verify checks an ID token's signature, issuer, audience, expiry and nonce.
func (s *GoogleService) Verify(ctx context.Context, idToken, expectedNonce string) (*ExternalIdentity, error) {
	claims := &GoogleClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		return s.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid id token: %v", domain.ErrOAuthProvider, err)
	}

	if claims.Issuer != googleIssuer && claims.Issuer != googleIssuerAlt {
		return nil, fmt.Errorf("%w: invalid issuer %q", domain.ErrOAuthProvider, claims.Issuer)
	}
	if !s.validAudience(claims.Audience) {
		return nil, fmt.Errorf("%w: invalid audience", domain.ErrOAuthProvider)
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return nil, fmt.Errorf("%w: nonce mismatch", domain.ErrOAuthProvider)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrOAuthProvider)
	}

	return &ExternalIdentity{
		Provider:      domain.ProviderGoogle,
		Subject:       claims.Subject,
		Email:         NormalizeEmail(claims.Email),
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
	}, nil
}

// validAudience accepts the web client ID or any mobile client ID.
func (s *GoogleService) validAudience(aud jwt.ClaimStrings) bool {
	for _, a := range aud {
		if a == s.config.ClientID {
			return true
		}
		for _, mobileID := range s.config.MobileClientIDs {
			if mobileID != "" && a == mobileID {
				return true
			}
		}
	}
	return false
}

// Lookup finds the identity linked to ext without creating anything.
// A verified email matching an existing identity also counts.
func (s *GoogleService) Lookup(ctx context.Context, ext *ExternalIdentity) (uuid.UUID, error) {
	identity, err := s.identities.GetByProviderSubject(ctx, ext.Provider, ext.Subject)
	if err == nil {
		return identity.UserID, nil
	}
	if !errors.Is(err, domain.ErrIdentityNotFound) {
		return uuid.Nil, err
	}
	if !ext.EmailVerified || ext.Email == "" {
		return uuid.Nil, domain.ErrIdentityNotFound
	}
	user, err := s.users.GetByEmail(ctx, ext.Email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return uuid.Nil, domain.ErrIdentityNotFound
		}
		return uuid.Nil, err
	}
	return user.ID, nil
}

// Provision returns the identity for ext, linking it to an existing user by
// verified email or creating a new identity. created reports whether a new
// identity was made.
func (s *GoogleService) Provision(ctx context.Context, ext *ExternalIdentity) (userID uuid.UUID, created bool, err error) {
	// 1. Existing link
	identity, err := s.identities.GetByProviderSubject(ctx, ext.Provider, ext.Subject)
	if err == nil {
		return identity.UserID, false, nil
	}
	if !errors.Is(err, domain.ErrIdentityNotFound) {
		return uuid.Nil, false, err
	}

	now := time.Now()
	link := &domain.UserIdentity{
		ID:              uuid.New(),
		Provider:        ext.Provider,
		ProviderSubject: ext.Subject,
		Email:           &ext.Email,
		CreatedAt:       now,
	}

	// 2. Auto-link by verified email
	user, err := s.users.GetByEmail(ctx, ext.Email)
	if err == nil && ext.EmailVerified {
		link.UserID = user.ID
		if err := s.identities.CreateTx(ctx, s.db, link); err != nil {
			return uuid.Nil, false, err
		}
		s.logger.Info("linked external identity", "user_id", user.ID, "provider", ext.Provider)
		return user.ID, false, nil
	}
	if err == nil {
		return uuid.Nil, false, fmt.Errorf("%w: unverified email matches existing user", domain.ErrUserAlreadyExists)
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return uuid.Nil, false, err
	}

	// 3. New identity
	profile := SynthesizeProfile(ProviderProfile{
		Email:      ext.Email,
		FullName:   ext.Name,
		GivenName:  ext.GivenName,
		FamilyName: ext.FamilyName,
	})
	newUser := &domain.User{
		ID:            uuid.New(),
		Email:         ext.Email,
		EmailVerified: ext.EmailVerified,
		Name:          &profile.Name,
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	link.UserID = newUser.ID

	err = s.provisioner.CreateIdentity(ctx, newUser, func(tx *sql.Tx) error {
		return s.identities.CreateTx(ctx, tx, link)
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	s.logger.Info("provisioned identity", "user_id", newUser.ID, "provider", ext.Provider, "user_code", newUser.UserCode)
	return newUser.ID, true, nil
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (s *GoogleService) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if keys, ok := s.keys.Get(jwksCacheKey); ok {
		if key, ok := keys.(map[string]*rsa.PublicKey)[kid]; ok {
			return key, nil
		}
	}
	// Unknown kid: keys may have rotated.
	keys, err := s.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	s.keys.SetDefault(jwksCacheKey, keys)
	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (s *GoogleService) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.JWKSURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	return keys, nil
}
