// Package cache stores assistant replies keyed by normalized question and
// diver context.
package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/freedive-ai/coach/pkg/models"
)

// Store is a response cache with TTL expiry.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Stats() (models.CacheStats, error)
	Clear(expiredOnly bool) error
	Close() error
}

// Key derives a cache key from the experience level, the message and an
// optional dive signature. Messages differing only in case or surrounding
// whitespace share a key.
func Key(level, message, signature string) string {
	h := sha256.New()
	h.Write([]byte(level))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(message))))
	h.Write([]byte{0})
	h.Write([]byte(signature))
	return fmt.Sprintf("%x", h.Sum(nil))
}
