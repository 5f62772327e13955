package kvstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	file, err := NewFile(filepath.Join(dir, "store.json"))
	require.NoError(t, err)

	ldb, err := NewLevelDB(filepath.Join(dir, "leveldb"))
	require.NoError(t, err)

	enc, err := NewEncrypted(ctx, NewMemory(), "test-passphrase")
	require.NoError(t, err)

	stores := map[string]Store{
		"memory":    NewMemory(),
		"file":      file,
		"leveldb":   ldb,
		"encrypted": enc,
	}

	if addr := os.Getenv("ENTITLEMENTS_REDIS_ADDR"); addr != "" {
		r, err := NewRedis(addr, "", 0, fmt.Sprintf("entitlements-test-%s:", t.Name()))
		require.NoError(t, err)
		require.NoError(t, r.Ping(context.Background()))
		stores["redis"] = r
	}

	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, apperrors.ErrNotFound)

			require.NoError(t, s.Put(ctx, "etag:/a", "one"))
			require.NoError(t, s.Put(ctx, "etag:/b", "two"))
			require.NoError(t, s.Put(ctx, "other", "three"))

			v, err := s.Get(ctx, "etag:/a")
			require.NoError(t, err)
			assert.Equal(t, "one", v)

			require.NoError(t, s.Put(ctx, "etag:/a", "replaced"))
			v, err = s.Get(ctx, "etag:/a")
			require.NoError(t, err)
			assert.Equal(t, "replaced", v)

			keys, err := s.Keys(ctx, "etag:")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"etag:/a", "etag:/b"}, keys)

			require.NoError(t, s.Delete(ctx, "etag:/a"))
			require.NoError(t, s.Delete(ctx, "etag:/a"))
			_, err = s.Get(ctx, "etag:/a")
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestStoreConcurrentWrites(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.Put(ctx, fmt.Sprintf("k:%02d", i), fmt.Sprint(i)))
				}(i)
			}
			wg.Wait()

			keys, err := s.Keys(ctx, "k:")
			require.NoError(t, err)
			assert.Len(t, keys, 20)
		})
	}
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	f, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Put(ctx, "product_entitlement_mapping", `{"mappings":{}}`))

	reopened, err := NewFile(path)
	require.NoError(t, err)
	v, err := reopened.Get(ctx, "product_entitlement_mapping")
	require.NoError(t, err)
	assert.Equal(t, `{"mappings":{}}`, v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileKeepsWritesFromOtherHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	a, err := NewFile(path)
	require.NoError(t, err)
	b, err := NewFile(path)
	require.NoError(t, err)

	require.NoError(t, a.Put(ctx, "etag:/subscribers/abc", "a"))
	require.NoError(t, b.Put(ctx, "customer_info:abc", "b"))

	v, err := b.Get(ctx, "etag:/subscribers/abc")
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	require.NoError(t, a.Delete(ctx, "etag:/subscribers/abc"))
	reopened, err := NewFile(path)
	require.NoError(t, err)
	keys, err := reopened.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"customer_info:abc"}, keys)
}

func TestFileRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFile(path)
	assert.ErrorIs(t, err, apperrors.ErrInvalidJSON)
}

func TestEncryptedStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()

	enc, err := NewEncrypted(ctx, inner, "secret")
	require.NoError(t, err)
	require.NoError(t, enc.Put(ctx, "customer_info:alice", `{"entitlements":{"pro":{}}}`))

	t.Run("values are sealed at rest", func(t *testing.T) {
		raw, err := inner.Get(ctx, "customer_info:alice")
		require.NoError(t, err)
		assert.NotContains(t, raw, "entitlements")
	})

	t.Run("salt is reused and hidden", func(t *testing.T) {
		again, err := NewEncrypted(ctx, inner, "secret")
		require.NoError(t, err)
		v, err := again.Get(ctx, "customer_info:alice")
		require.NoError(t, err)
		assert.Equal(t, `{"entitlements":{"pro":{}}}`, v)

		keys, err := again.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"customer_info:alice"}, keys)
	})

	t.Run("wrong passphrase cannot read", func(t *testing.T) {
		wrong, err := NewEncrypted(ctx, inner, "not-the-secret")
		require.NoError(t, err)
		_, err = wrong.Get(ctx, "customer_info:alice")
		assert.Error(t, err)
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("defaults to memory", func(t *testing.T) {
		s, err := Open(ctx, Config{}, dir)
		require.NoError(t, err)
		assert.IsType(t, &Memory{}, s)
	})

	t.Run("file under data dir", func(t *testing.T) {
		s, err := Open(ctx, Config{Backend: BackendFile}, dir)
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, "k", "v"))
		_, err = os.Stat(filepath.Join(dir, "store.json"))
		assert.NoError(t, err)
	})

	t.Run("wraps with encryption", func(t *testing.T) {
		s, err := Open(ctx, Config{Backend: BackendMemory, Passphrase: "p"}, dir)
		require.NoError(t, err)
		assert.IsType(t, &Encrypted{}, s)
	})

	t.Run("rejects unknown backend", func(t *testing.T) {
		_, err := Open(ctx, Config{Backend: "etcd"}, dir)
		assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
	})
}
