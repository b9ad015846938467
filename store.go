package sluice

import (
	"context"
	"fmt"

	"github.com/SluiceQ/sluice-go/internal/digest"
	"github.com/SluiceQ/sluice-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// ArtifactStore is a content-addressed blob store backed by Redis.
// An artifact's identity is the SHA-256 digest of its bytes, so the store is
// write-once: putting equal content twice performs a single physical write
// (SET NX), which also makes concurrent identical puts safe.
type ArtifactStore struct {
	rdb redis.UniversalClient
}

// NewArtifactStore creates a store on top of an existing Redis connection.
func NewArtifactStore(rdb redis.UniversalClient) *ArtifactStore {
	return &ArtifactStore{rdb: rdb}
}

// Put stores b under its content digest and returns the canonical
// ("sha256:<hex>") identifier. Putting already-stored content is a no-op
// returning the existing identifier.
func (s *ArtifactStore) Put(ctx context.Context, b []byte) (string, error) {
	hex := digest.Sum(b)
	if err := s.rdb.SetNX(ctx, keys.Artifact(hex), b, 0).Err(); err != nil {
		return "", &QueueUnavailableError{Op: "SETNX", Err: err}
	}
	return digest.Canonical(hex), nil
}

// Get returns the bytes stored under id. It accepts both prefixed and bare
// identifier forms and fails with ErrArtifactNotFound for unknown digests.
func (s *ArtifactStore) Get(ctx context.Context, id string) ([]byte, error) {
	hex := digest.Normalize(id)
	b, err := s.rdb.Get(ctx, keys.Artifact(hex)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, digest.Canonical(hex))
	}
	if err != nil {
		return nil, &QueueUnavailableError{Op: "GET", Err: err}
	}
	return b, nil
}

// Exists reports whether content is stored under id. Malformed identifiers
// report false rather than failing.
func (s *ArtifactStore) Exists(ctx context.Context, id string) (bool, error) {
	hex := digest.Normalize(id)
	if !digest.WellFormed(hex) {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, keys.Artifact(hex)).Result()
	if err != nil {
		return false, &QueueUnavailableError{Op: "EXISTS", Err: err}
	}
	return n > 0, nil
}
