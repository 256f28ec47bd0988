package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"lumipos/backend/internal/domain"
)

// Roles known to the register backend. Cashiers work the front registers;
// back-office registers and voucher posting stay with admins.
const (
	roleAdmin   = "admin"
	roleCashier = "cashier"
)

// registerGrants maps a role onto the register profiles its tokens may
// operate. "*" grants every register.
func registerGrants(role string) []string {
	switch role {
	case roleAdmin:
		return []string{"*"}
	case roleCashier:
		return []string{"pos", "edit_sale"}
	default:
		return nil
	}
}

// UserDirectory is the slice of the repository the auth layer needs: account
// listing for login plus write-back of upgraded password hashes.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	passwordHash string
	role         string
	active       bool
}

// AuthManager issues and checks register tokens. The manager PIN is kept as a
// bcrypt hash and gates voucher posting, not login.
type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	pinHash   string
	directory UserDirectory
	creds     map[string]credential
}

type registerClaims struct {
	jwtlib.RegisteredClaims
	Role      string   `json:"role"`
	Registers []string `json:"registers"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, directory UserDirectory) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	a := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		directory: directory,
		creds:     map[string]credential{},
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost); err == nil {
			a.pinHash = string(hash)
		}
	}
	a.reloadCredentials(context.Background())
	return a
}

// reloadCredentials pulls the account list from the directory. Plaintext
// passwords left by seeding or manual inserts are upgraded to bcrypt and
// written back.
func (a *AuthManager) reloadCredentials(ctx context.Context) {
	if a.directory == nil {
		return
	}
	users, err := a.directory.ListUsers(ctx)
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		hash := user.Password
		if !isBcryptHash(hash) {
			upgraded, err := bcrypt.GenerateFromPassword([]byte(hash), bcrypt.DefaultCost)
			if err != nil {
				continue
			}
			hash = string(upgraded)
			_ = a.directory.UpdateUserPassword(ctx, username, hash)
		}
		a.creds[username] = credential{passwordHash: hash, role: user.Role, active: user.Active}
	}
}

func (a *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	// Accounts inserted while the process runs (ops adding a cashier row)
	// should be able to log in without a restart.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.reloadCredentials(ctx)

	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.creds[username]
	a.mu.RUnlock()
	if !ok || strings.TrimSpace(req.Password) == "" {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.passwordHash), []byte(req.Password)) != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := registerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "lumipos",
		},
		Role:      role,
		Registers: registerGrants(role),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &registerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role, Registers: claims.Registers}, nil
}

// ValidateManagerPIN checks the supervisor PIN presented alongside voucher
// confirm and delete requests. An unset PIN disables posting entirely.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || a.pinHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.pinHash), []byte(input)) == nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
