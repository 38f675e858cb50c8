package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specfactory/internal/types"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := "specs/inputs/mouse/products/mouse-razer-viper.json"
	require.NoError(t, s.Write(ctx, key, []byte(`{"ok":true}`)))

	data, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	keys, err := s.List(ctx, "specs/inputs/mouse/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Read(ctx, key)
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	keys, err = s.List(ctx, "specs/inputs/mouse/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalStore_ListPartialFilePrefix(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "helper_files/mouse/_overrides/mouse-a.overrides.json", []byte("{}")))
	require.NoError(t, s.Write(ctx, "helper_files/mouse/_overrides/mouse-b.overrides.json", []byte("{}")))

	// A prefix that ends mid-filename still matches by key, not by directory.
	keys, err := s.List(ctx, "helper_files/mouse/_overrides/mouse-a.")
	require.NoError(t, err)
	assert.Equal(t, []string{"helper_files/mouse/_overrides/mouse-a.overrides.json"}, keys)
}

func TestLocalStore_DeleteMissingIsNoop(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Delete(context.Background(), "nope/missing.json"))
}

func TestDualStore_PrimaryWinsMirrorFallsBack(t *testing.T) {
	ctx := context.Background()
	primary, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	mirror, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	var mirrorErrs int
	d := NewDualStore(primary, mirror, func(op, key string, err error) { mirrorErrs++ })

	require.NoError(t, d.Write(ctx, "a/b.json", []byte("x")))

	// Present in both backends.
	_, err = primary.Read(ctx, "a/b.json")
	assert.NoError(t, err)
	_, err = mirror.Read(ctx, "a/b.json")
	assert.NoError(t, err)

	// Only in the mirror: Read falls back.
	require.NoError(t, mirror.Write(ctx, "only/mirror.json", []byte("m")))
	data, err := d.Read(ctx, "only/mirror.json")
	require.NoError(t, err)
	assert.Equal(t, "m", string(data))

	require.NoError(t, d.Delete(ctx, "a/b.json"))
	_, err = mirror.Read(ctx, "a/b.json")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	assert.Zero(t, mirrorErrs, "mirror callback should not fire on healthy mirror")
}
