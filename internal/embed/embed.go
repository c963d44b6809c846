// Package embed provides the EmbeddingProvider collaborator used by
// internal/matcher for semantic-vector scoring, plus a Redis-backed cache
// in front of it. No pack example ships a real embedding model client (the
// original Python system uses sentence-transformers, which has no Go
// equivalent in this retrieval pack), so the provider itself is a small
// deterministic stand-in: a fixed-dimensionality hashed bag-of-words
// vector, which is enough to give the cosine-similarity scorer stable,
// comparable output without depending on an unavailable ML runtime.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dimensions is the fixed vector size every provider in this package reports.
const Dimensions = 64

// Provider computes a fixed-dimensionality embedding for free text.
type Provider interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
}

// HashingProvider deterministically hashes whitespace-separated tokens
// into a fixed-size vector. It is a stand-in for a real sentence-embedding
// model: stable and comparable across calls, but not semantically learned.
type HashingProvider struct{}

// NewHashingProvider constructs the deterministic stand-in provider.
func NewHashingProvider() *HashingProvider {
	return &HashingProvider{}
}

func (p *HashingProvider) Dimensions() int { return Dimensions }

func (p *HashingProvider) Embed(text string) ([]float32, error) {
	vec := make([]float32, Dimensions)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		for i := 0; i < Dimensions; i++ {
			byteIdx := i % len(sum)
			bit := int8(sum[byteIdx])
			vec[i] += float32(bit) / 127.0
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}

	return vec, nil
}

// CachedProvider wraps a Provider with a Redis-backed text->vector cache,
// keyed by a stable hash of the input string. Cache failures (connection
// errors, serialization errors) are never fatal: a cache miss just falls
// through to the underlying provider, matching the spec's "cache failures
// never fail the step" expansion note.
type CachedProvider struct {
	inner Provider
	rdb   redis.Cmdable
	ttl   time.Duration
}

// NewCachedProvider wraps inner with a Redis cache using the given TTL.
func NewCachedProvider(inner Provider, rdb redis.Cmdable, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedProvider{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedProvider) Embed(text string) ([]float32, error) {
	key := cacheKey(text)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if vec, ok := decodeVector(raw); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(text)
	if err != nil {
		return nil, err
	}

	c.rdb.Set(ctx, key, encodeVector(vec), c.ttl)

	return vec, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + hex.EncodeToString(sum[:])
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw string) ([]float32, bool) {
	b := []byte(raw)
	if len(b)%4 != 0 {
		return nil, false
	}
	n := len(b) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, true
}
