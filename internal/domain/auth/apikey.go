package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// APIKey is a long-lived credential issued to a seller or admin integration.
// Only the HMAC-SHA256 hash of the key is stored.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	ActorID string
	Role    Role
}

// KeyRepository looks up active API keys by hash.
type KeyRepository interface {
	FindKeyByHash(ctx context.Context, hash string) (*APIKey, error)
}

// Keys authenticates API keys against a repository.
type Keys struct {
	repo   KeyRepository
	pepper []byte
}

// NewKeys creates a Keys authenticator hashing with pepper.
func NewKeys(repo KeyRepository, pepper []byte) *Keys {
	return &Keys{repo: repo, pepper: pepper}
}

// Hash returns the hex HMAC-SHA256 of key under the pepper.
func (k *Keys) Hash(key string) string {
	return hex.EncodeToString(k.sum(key))
}

func (k *Keys) sum(key string) []byte {
	mac := hmac.New(sha256.New, k.pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Authenticate resolves the actor owning key.
func (k *Keys) Authenticate(ctx context.Context, key string) (Actor, error) {
	if key == "" {
		return Actor{}, ErrUnauthenticated
	}
	hash := k.sum(key)

	info, err := k.repo.FindKeyByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return Actor{}, ErrUnauthenticated
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return Actor{}, ErrUnauthenticated
	}
	if !info.Role.Valid() || info.ActorID == "" {
		return Actor{}, ErrUnauthenticated
	}
	return Actor{ID: info.ActorID, Role: info.Role}, nil
}
