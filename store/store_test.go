package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *Store {
	s, err := New(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVImplementations(t *testing.T) {
	sealedMem, err := NewSealed(NewMemory(), "passphrase")
	require.NoError(t, err)

	impls := map[string]KV{
		"memory": NewMemory(),
		"sqlite": openSQLite(t),
		"sealed": sealedMem,
	}
	for name, kv := range impls {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(KeyToken)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Set(KeyToken, "abc"))
			v, err := kv.Get(KeyToken)
			require.NoError(t, err)
			assert.Equal(t, "abc", v)

			require.NoError(t, kv.Set(KeyToken, "def"))
			v, err = kv.Get(KeyToken)
			require.NoError(t, err)
			assert.Equal(t, "def", v)

			require.NoError(t, kv.Remove(KeyToken))
			_, err = kv.Get(KeyToken)
			assert.ErrorIs(t, err, ErrNotFound)

			// removing a missing key is not an error
			assert.NoError(t, kv.Remove("missing"))
		})
	}
}

func TestSentinelValuesAreAbsent(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "empty", value: ""},
		{name: "blank", value: "   "},
		{name: "null", value: "null"},
		{name: "undefined", value: "undefined"},
	}
	sealedMem, err := NewSealed(NewMemory(), "k")
	require.NoError(t, err)
	impls := map[string]KV{"memory": NewMemory(), "sqlite": openSQLite(t), "sealed": sealedMem}

	for name, kv := range impls {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				require.NoError(t, kv.Set(KeyToken, tt.value))
				_, err := kv.Get(KeyToken)
				assert.ErrorIs(t, err, ErrNotFound)
			})
		}
	}
}

func TestSealedValuesAreNotStoredInTheClear(t *testing.T) {
	inner := NewMemory()
	s, err := NewSealed(inner, "secret")
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyToken, "bearer-token"))
	raw, err := inner.Get(KeyToken)
	require.NoError(t, err)
	assert.NotContains(t, raw, "bearer-token")

	other, err := NewSealed(inner, "other-secret")
	require.NoError(t, err)
	_, err = other.Get(KeyToken)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyActiveRoom, "help"))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get(KeyActiveRoom)
	require.NoError(t, err)
	assert.Equal(t, "help", v)
}
