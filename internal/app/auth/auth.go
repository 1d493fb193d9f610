// Package auth supplies the caller-verification capability for privileged
// operations and a JWT manager for the HTTP surface. The core never inspects
// tokens itself; it only asks the injected Verifier whether a caller holds a
// role.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles recognised by the service.
const (
	RoleAdmin  = "admin"
	RoleSource = "source"
)

// Verifier answers whether a caller holds the required role.
type Verifier interface {
	Verify(caller, role string) bool
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(caller, role string) bool

func (f VerifierFunc) Verify(caller, role string) bool { return f(caller, role) }

// StaticVerifier maps caller identities to roles. Intended for tests and
// single-operator deployments.
type StaticVerifier struct {
	mu    sync.RWMutex
	roles map[string]map[string]bool
}

// NewStaticVerifier returns an empty verifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{roles: make(map[string]map[string]bool)}
}

// Grant gives a caller a role.
func (v *StaticVerifier) Grant(caller, role string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.roles[caller] == nil {
		v.roles[caller] = make(map[string]bool)
	}
	v.roles[caller][role] = true
}

func (v *StaticVerifier) Verify(caller, role string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.roles[caller][role]
}

// User is a credential record for the JWT manager.
type User struct {
	Username string
	Password string
	Role     string
}

// Claims carried in issued tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Manager issues and validates signed JWTs and doubles as a Verifier for
// token-identified callers.
type Manager struct {
	secret []byte
	users  map[string]User
	ttl    time.Duration
}

// NewManager builds a manager over a static user list.
func NewManager(secret string, users []User) *Manager {
	byName := make(map[string]User, len(users))
	for _, u := range users {
		byName[u.Username] = u
	}
	return &Manager{secret: []byte(secret), users: byName, ttl: 12 * time.Hour}
}

// Login checks credentials and returns a signed token.
func (m *Manager) Login(username, password string) (string, error) {
	user, ok := m.users[username]
	if !ok || user.Password != password {
		return "", ErrInvalidCredentials
	}

	now := time.Now().UTC()
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses a token and returns its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify treats the caller as a bearer token and checks its role claim.
func (m *Manager) Verify(caller, role string) bool {
	claims, err := m.Validate(caller)
	if err != nil {
		return false
	}
	return claims.Role == role
}
