package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ipfs/go-datastore"
)

// GetUint64 returns the value at key, or 0 when absent.
func GetUint64(ctx context.Context, r Reader, key datastore.Key) (uint64, error) {
	data, err := r.Get(ctx, key)
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("decode uint64 at %s: got %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func PutUint64(ctx context.Context, w ReadWriter, key datastore.Key, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return w.Put(ctx, key, buf)
}

// GetBig returns the amount at key, or zero when absent.
func GetBig(ctx context.Context, r Reader, key datastore.Key) (*big.Int, error) {
	data, err := r.Get(ctx, key)
	if IsNotFound(err) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(data), nil
}

// PutBig stores a non-negative amount. Zero deletes the key.
func PutBig(ctx context.Context, w ReadWriter, key datastore.Key, v *big.Int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("store negative amount at %s", key)
	}
	if v.Sign() == 0 {
		return w.Delete(ctx, key)
	}
	return w.Put(ctx, key, v.Bytes())
}

// GetBool returns the flag at key, or false when absent.
func GetBool(ctx context.Context, r Reader, key datastore.Key) (bool, error) {
	data, err := r.Get(ctx, key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}

// PutBool stores a flag. False deletes the key.
func PutBool(ctx context.Context, w ReadWriter, key datastore.Key, v bool) error {
	if !v {
		return w.Delete(ctx, key)
	}
	return w.Put(ctx, key, []byte{1})
}

// GetString returns the string at key, or "" when absent.
func GetString(ctx context.Context, r Reader, key datastore.Key) (string, error) {
	data, err := r.Get(ctx, key)
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func PutString(ctx context.Context, w ReadWriter, key datastore.Key, v string) error {
	if v == "" {
		return w.Delete(ctx, key)
	}
	return w.Put(ctx, key, []byte(v))
}

// GetRecord loads the record at key into rec and reports whether it existed.
func GetRecord(ctx context.Context, r Reader, key datastore.Key, rec Record) (bool, error) {
	data, err := r.Get(ctx, key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rec.Deserialize(data); err != nil {
		return false, fmt.Errorf("decode record at %s: %w", key, err)
	}
	return true, nil
}

func PutRecord(ctx context.Context, w ReadWriter, key datastore.Key, rec Record) error {
	data, err := rec.Serialize()
	if err != nil {
		return fmt.Errorf("encode record at %s: %w", key, err)
	}
	return w.Put(ctx, key, data)
}
