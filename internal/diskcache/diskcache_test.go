package diskcache

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGet_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/cache", 0)
	require.NoError(t, err)

	key := Key("https://example.com/f.bin", 0, 10)
	require.NoError(t, s.Put(key, []byte("0123456789")))

	data, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("0123456789"), data)
	assert.True(t, s.Has(key))
	assert.EqualValues(t, 10, s.TotalSize())
	assert.Equal(t, 1, s.ItemCount())
}

func TestStore_Evict_RespectsMaxBytes(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/cache", 15)
	require.NoError(t, err)

	require.NoError(t, s.Put(Key("u", 0, 10), make([]byte, 10)))
	require.NoError(t, s.Put(Key("u", 10, 20), make([]byte, 10)))

	assert.LessOrEqual(t, s.TotalSize(), int64(15))
}

func TestStore_Fetch_DedupesConcurrentMisses(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/cache", 0)
	require.NoError(t, err)

	var calls int32
	fn := func() ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("payload"), nil
	}

	key := Key("u", 0, 7)
	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			data, err := s.Fetch(key, fn)
			assert.NoError(t, err)
			assert.Equal(t, []byte("payload"), data)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStore_Fetch_PropagatesError(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/cache", 0)
	require.NoError(t, err)

	wantErr := errors.New("boom")
	_, err = s.Fetch(Key("u", 0, 1), func() ([]byte, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestStore_Cleanup_RemovesEverything(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/cache", 0)
	require.NoError(t, err)

	require.NoError(t, s.Put(Key("u", 0, 5), make([]byte, 5)))
	require.NoError(t, s.Cleanup())
	assert.Equal(t, 0, s.ItemCount())
	assert.EqualValues(t, 0, s.TotalSize())
}
