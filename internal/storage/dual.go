package storage

import (
	"context"
	"errors"

	"specfactory/internal/types"
)

// DualStore writes to a primary and mirrors to a secondary. Reads and lists
// prefer the primary and fall back to the mirror; deletes go to both.
// A mirror write failure does not fail the operation — the primary is the
// source of truth and the mirror can be backfilled.
type DualStore struct {
	primary types.Storage
	mirror  types.Storage
	onError func(op, key string, err error)
}

// NewDualStore composes a primary and a mirror store. onError receives mirror
// failures; it may be nil.
func NewDualStore(primary, mirror types.Storage, onError func(op, key string, err error)) *DualStore {
	return &DualStore{primary: primary, mirror: mirror, onError: onError}
}

func (d *DualStore) mirrorErr(op, key string, err error) {
	if err != nil && d.onError != nil {
		d.onError(op, key, err)
	}
}

// Read reads from the primary, falling back to the mirror on a missing key.
func (d *DualStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := d.primary.Read(ctx, key)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, types.ErrKeyNotFound) {
		return d.mirror.Read(ctx, key)
	}
	return nil, err
}

// Write writes to both stores; only a primary failure is fatal.
func (d *DualStore) Write(ctx context.Context, key string, data []byte) error {
	if err := d.primary.Write(ctx, key, data); err != nil {
		return err
	}
	d.mirrorErr("write", key, d.mirror.Write(ctx, key, data))
	return nil
}

// List lists the primary; if empty, it falls back to the mirror.
func (d *DualStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := d.primary.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		return keys, nil
	}
	return d.mirror.List(ctx, prefix)
}

// Delete removes the key from both stores.
func (d *DualStore) Delete(ctx context.Context, key string) error {
	if err := d.primary.Delete(ctx, key); err != nil {
		return err
	}
	d.mirrorErr("delete", key, d.mirror.Delete(ctx, key))
	return nil
}

var _ types.Storage = (*DualStore)(nil)
