package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/ipfs/go-datastore"
)

// Reader abstracts keyed reads. Missing keys return datastore.ErrNotFound.
// Both committed stores and in-flight transactions satisfy it.
type Reader interface {
	Get(ctx context.Context, key datastore.Key) ([]byte, error)
}

// ReadWriter abstracts keyed reads and writes against the state of one call.
type ReadWriter interface {
	Reader
	Put(ctx context.Context, key datastore.Key, value []byte) error
	Delete(ctx context.Context, key datastore.Key) error
}

// Record is a value stored with its own serialization.
type Record interface {
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
}

// Key builds a state key from namespace parts. Empty parts are kept
// distinct from absent ones and slashes inside a part are escaped.
func Key(parts ...string) datastore.Key {
	cleaned := make([]string, len(parts))
	for i, p := range parts {
		if p == "" {
			p = "~"
		}
		cleaned[i] = strings.ReplaceAll(p, "/", "%2F")
	}
	return datastore.KeyWithNamespaces(cleaned)
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, datastore.ErrNotFound)
}
