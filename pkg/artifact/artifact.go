// Package artifact stores large intermediate texts (analysis sections,
// synthesis documents, report drafts) outside the session state, which keeps
// only short references to them.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Meta describes a stored artifact without its content.
type Meta struct {
	SessionID string    `json:"session_id"`
	Key       string    `json:"key"`
	Ref       string    `json:"ref"`
	SHA256    string    `json:"sha256"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a write-once text store keyed by (session, key). Writing the same
// key twice with identical content is a no-op returning the existing ref;
// writing different content under an existing key is an error.
type Store interface {
	StoreText(ctx context.Context, sessionID, key, content string) (ref string, err error)
	GetText(ctx context.Context, sessionID, key string) (string, error)
	Meta(ctx context.Context, sessionID, key string) (*Meta, error)
	Keys(ctx context.Context, sessionID string) ([]string, error)
	PurgeSession(ctx context.Context, sessionID string) error
	Close() error
}

// Ref derives the content-addressed reference for an artifact body.
func Ref(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "art:" + hex.EncodeToString(sum[:])[:16]
}

func digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
