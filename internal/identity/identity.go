// ABOUTME: Operator and visitor identity resolution for chat participants
// ABOUTME: Visitor tokens are generated and persisted client-side, never server-issued

package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultOperatorID is the well-known identity every visitor conversation funnels into.
const DefaultOperatorID = "operator"

// visitorPrefix marks generated visitor tokens so they can't collide with the operator id.
const visitorPrefix = "visitor-"

// ErrNoToken is returned by a TokenStore that has nothing saved yet.
var ErrNoToken = errors.New("no visitor token stored")

// TokenStore is client-local storage for the visitor token.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
}

// Resolver hands out the stable anonymous identity of this client.
type Resolver struct {
	tokens   TokenStore
	generate func() string
}

// NewResolver creates a resolver backed by the given token store.
func NewResolver(tokens TokenStore) *Resolver {
	return &Resolver{
		tokens:   tokens,
		generate: NewVisitorToken,
	}
}

// ResolveVisitorIdentity returns the stored visitor token, generating and
// saving a new one on first use. There is no server round-trip and no
// uniqueness check beyond the randomness of the token itself.
func (r *Resolver) ResolveVisitorIdentity() (string, error) {
	token, err := r.tokens.Load()
	if err == nil && token != "" {
		return token, nil
	}
	if err != nil && !errors.Is(err, ErrNoToken) {
		return "", fmt.Errorf("loading visitor token: %w", err)
	}

	token = r.generate()
	if err := r.tokens.Save(token); err != nil {
		return "", fmt.Errorf("saving visitor token: %w", err)
	}
	return token, nil
}

// NewVisitorToken generates a random visitor token.
func NewVisitorToken() string {
	return visitorPrefix + uuid.New().String()
}

// IsVisitorToken reports whether id looks like a generated visitor token.
func IsVisitorToken(id string) bool {
	return strings.HasPrefix(id, visitorPrefix) && len(id) > len(visitorPrefix)
}

// IsOperator reports whether id is the operator identity.
func IsOperator(id, operatorID string) bool {
	return id != "" && id == operatorID
}
