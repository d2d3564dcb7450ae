// Package content stores entry bodies. Writes are two-phase: Put stages the
// bytes and returns a Transaction that the caller commits once the metadata
// transaction has committed, or aborts otherwise.
package content

import (
	"context"
	"encoding/hex"

	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"golang.org/x/crypto/blake2b"
)

// Transaction is a staged write. Commit and Abort are each final; calling
// either after the other returns ErrFinished.
type Transaction interface {
	// Digest is the content digest of the staged bytes.
	Digest() []byte
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (Transaction, error)
	// Get returns common.ErrNotFound for unknown or uncommitted keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Digest is the BLAKE2b-256 sum of data.
func Digest(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// Key addresses one revision of an entry body by identity and digest, so
// concurrent writers of the same entry never overwrite each other's bytes.
func Key(id models.EntryIdentity, digest []byte) string {
	return id.Key() + "@" + hex.EncodeToString(digest)
}
