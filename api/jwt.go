package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"guardian/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer          = "guardian"
	defaultTokenLifetime = 8 * time.Hour
	minJWTSecretLength   = 32
)

var (
	// ErrInvalidCredentials hides which of username, password or code was wrong
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrTOTPRequired is returned when a second factor is configured but missing
	ErrTOTPRequired = errors.New("totp code required")
)

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator verifies the single admin principal and issues HS256 tokens.
type Authenticator struct {
	enabled        bool
	username       string
	hashedPassword []byte
	secret         []byte
	expiry         time.Duration
	totpSecret     string
	logger         *zap.SugaredLogger
}

// NewAuthenticator builds an authenticator from config. A plaintext password
// is hashed here when no hash was supplied.
func NewAuthenticator(cfg config.AuthConfig, logger *zap.SugaredLogger) (*Authenticator, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if !cfg.Enabled {
		logger.Warn("API authentication is disabled")
		return &Authenticator{logger: logger}, nil
	}

	if cfg.Username == "" {
		return nil, fmt.Errorf("auth: username is required")
	}
	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("auth: jwt secret must be at least %d characters", minJWTSecretLength)
	}

	hashed := []byte(cfg.HashedPassword)
	if len(hashed) == 0 {
		if cfg.Password == "" {
			return nil, fmt.Errorf("auth: a password or password hash is required")
		}
		cost := cfg.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		var err error
		hashed, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("auth: failed to hash password: %w", err)
		}
	} else if _, err := bcrypt.Cost(hashed); err != nil {
		return nil, fmt.Errorf("auth: hashed password is not a bcrypt hash: %w", err)
	}

	expiry := cfg.JWTExpiry
	if expiry <= 0 {
		expiry = defaultTokenLifetime
	}

	return &Authenticator{
		enabled:        true,
		username:       cfg.Username,
		hashedPassword: hashed,
		secret:         []byte(cfg.JWTSecret),
		expiry:         expiry,
		totpSecret:     cfg.TOTPSecret,
		logger:         logger,
	}, nil
}

// Enabled reports whether requests must carry a token.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// MFAEnabled reports whether login requires a TOTP code.
func (a *Authenticator) MFAEnabled() bool {
	return a.enabled && a.totpSecret != ""
}

// Authenticate checks the credentials and, when configured, the TOTP code.
func (a *Authenticator) Authenticate(username, password, code string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	// always run bcrypt so timing does not reveal the username
	passErr := bcrypt.CompareHashAndPassword(a.hashedPassword, []byte(password))
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	if a.MFAEnabled() {
		if code == "" {
			return ErrTOTPRequired
		}
		if !verifyTOTP(a.totpSecret, code, time.Now()) {
			return ErrInvalidCredentials
		}
	}
	return nil
}

// IssueToken signs a token for username and returns it with its expiry.
func (a *Authenticator) IssueToken(username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(a.expiry)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   username,
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies a token, rejecting non-HMAC algorithms.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Username != a.username {
		return nil, errors.New("token subject is not a known principal")
	}
	return claims, nil
}
