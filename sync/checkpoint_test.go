package sync

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointStore_missingFileIsZero(t *testing.T) {
	store := CheckpointStore{Fs: afero.NewMemMapFs(), Path: "last_uploaded.txt"}
	got, err := store.Read()
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestCheckpointStore_roundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := CheckpointStore{Fs: fsys, Path: "/state/nested/last_uploaded.txt"}
	want := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("CEST", 2*60*60))

	require.NoError(t, store.Write(want))
	data, err := afero.ReadFile(fsys, store.Path)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06T05:08:09.123456789Z", string(data))

	got, err := store.Read()
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
	assert.Equal(t, time.UTC, got.Location())
}

func TestCheckpointStore_acceptedFormats(t *testing.T) {
	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{"utc", "2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"offset", "2024-01-02T05:04:05+02:00", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"fractional no zone", "2024-01-02T03:04:05.1234567", time.Date(2024, 1, 2, 3, 4, 5, 123456700, time.UTC)},
		{"surrounding whitespace", "  2024-01-02T03:04:05Z\n", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"garbage", "yesterday", time.Time{}},
		{"empty", "", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fsys, "cp.txt", []byte(tt.text), 0o644))
			got, err := CheckpointStore{Fs: fsys, Path: "cp.txt"}.Read()
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestCheckpointStore_unreadable(t *testing.T) {
	fsys := brokenFs{Fs: afero.NewMemMapFs(), path: "/cp.txt"}
	_, err := CheckpointStore{Fs: fsys, Path: "/cp.txt"}.Read()
	require.ErrorIs(t, err, ErrCheckpointUnreadable)
}

func TestCheckpointStore_writeFailure(t *testing.T) {
	store := CheckpointStore{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs()), Path: "/state/cp.txt"}
	assert.Error(t, store.Write(time.Now()))
}
