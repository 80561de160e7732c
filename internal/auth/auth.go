// Package auth validates proxy API keys. Keys are stored as SHA-256 hashes;
// the authenticator keeps an in-memory hash map rebuilt from storage whenever
// keys change.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/syaikhipin/ipinproxy/internal/storage"
)

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	KeyID         string
	UserID        string
	UserName      string
	AllowedModels []string
}

// Allows reports whether the identity may use the named model. A single "*"
// entry grants every model.
func (id *Identity) Allows(model string) bool {
	for _, m := range id.AllowedModels {
		if m == "*" || m == model {
			return true
		}
	}
	return false
}

// Authenticator validates API keys against the loaded key set.
type Authenticator struct {
	mu   sync.RWMutex
	keys map[string]*Identity // keyhash -> identity
}

func NewAuthenticator() *Authenticator {
	return &Authenticator{keys: make(map[string]*Identity)}
}

// Load replaces the key set. Disabled keys and keys of disabled users are
// left out, so they stop validating on the next request.
func (a *Authenticator) Load(users []storage.User, keys []storage.APIKey) {
	byID := make(map[string]storage.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	next := make(map[string]*Identity, len(keys))
	for _, k := range keys {
		if !k.Enabled {
			continue
		}
		u, ok := byID[k.UserID]
		if !ok || !u.Enabled {
			continue
		}
		next[k.KeyHash] = &Identity{
			KeyID:         k.ID,
			UserID:        u.ID,
			UserName:      u.Name,
			AllowedModels: k.AllowedModels,
		}
	}

	a.mu.Lock()
	a.keys = next
	a.mu.Unlock()
}

// ValidateAPIKey validates an API key and returns the caller it belongs to.
func (a *Authenticator) ValidateAPIKey(apiKey string) (*Identity, error) {
	keyHash := HashAPIKey(apiKey)

	a.mu.RLock()
	defer a.mu.RUnlock()

	// Constant-time comparison to prevent timing attacks
	for stored, id := range a.keys {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(stored)) == 1 {
			return id, nil
		}
	}
	return nil, fmt.Errorf("invalid API key")
}

// ExtractAPIKey extracts the API key from the Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// KeyPrefix marks keys issued by this service.
const KeyPrefix = "ipk-"

// GenerateAPIKey returns a new plaintext API key. Only its hash is ever
// stored; the plaintext is shown to the caller once at creation.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches the caller identity to the request context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the caller identity, or nil on unauthenticated paths.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
