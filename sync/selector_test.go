package sync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeExtensions(t *testing.T) {
	exts := NormalizeExtensions("zip", ".ZIP", " pdf ", "", "  ", ".Tar")
	assert.Equal(t, []string{".pdf", ".tar", ".zip"}, exts.List())

	assert.True(t, exts.Allows("backup.Zip"))
	assert.True(t, exts.Allows("archive.tar"))
	assert.False(t, exts.Allows("notes.txt"))
	assert.False(t, exts.Allows("zip"))
}

func TestExtensions_emptyAllowsAll(t *testing.T) {
	assert.True(t, NormalizeExtensions().Allows("anything.bin"))
	assert.True(t, NormalizeExtensions("", " ").Allows("no-extension"))
	assert.True(t, Extensions(nil).Allows("x.y"))
}

func TestSelectChanges_strictlyAfterCheckpoint(t *testing.T) {
	fsys := afero.NewMemMapFs()
	since := base.Add(time.Hour)
	writeFile(t, fsys, "/data/equal.zip", "e", since)
	writeFile(t, fsys, "/data/before.zip", "b", since.Add(-time.Second))
	writeFile(t, fsys, "/data/after.zip", "a", since.Add(time.Nanosecond))

	got, err := SelectChanges(fsys, []string{"/data"}, nil, since)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/data/after.zip", got[0].Path)
	assert.Equal(t, "/data", got[0].Root)
	assert.Equal(t, int64(1), got[0].Size)
}

func TestSelectChanges_ordersAcrossRoots(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/one/late.zip", "x", base.Add(3*time.Minute))
	writeFile(t, fsys, "/two/sub/early.zip", "x", base.Add(time.Minute))
	writeFile(t, fsys, "/two/tie-b.zip", "x", base.Add(2*time.Minute))
	writeFile(t, fsys, "/one/tie-a.zip", "x", base.Add(2*time.Minute))

	got, err := SelectChanges(fsys, []string{"/one", "/two"}, nil, time.Time{})
	require.NoError(t, err)

	var paths []string
	for _, c := range got {
		paths = append(paths, c.Path)
	}
	assert.Equal(t, []string{"/two/sub/early.zip", "/one/tie-a.zip", "/two/tie-b.zip", "/one/late.zip"}, paths)
}

func TestSelectChanges_emptyInputs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/empty", 0o755))
	writeFile(t, fsys, "/file.zip", "x", base)

	for _, roots := range [][]string{nil, {"/missing"}, {"/empty"}, {"/file.zip"}} {
		got, err := SelectChanges(fsys, roots, nil, time.Time{})
		require.NoError(t, err, "roots %v", roots)
		assert.Empty(t, got, "roots %v", roots)
	}
}

func TestRelativeSegments(t *testing.T) {
	tests := []struct {
		name string
		root string
		path string
		want []string
	}{
		{"directly under root", "/data", "/data/a.zip", nil},
		{"one level", "/data", "/data/docs/a.zip", []string{"docs"}},
		{"nested", "/data", "/data/docs/2024/03/a.zip", []string{"docs", "2024", "03"}},
		{"trailing slash root", "/data/", "/data/docs/a.zip", []string{"docs"}},
		{"outside root", "/data", "/other/place/a.zip", []string{"place"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RelativeSegments(filepath.FromSlash(tt.root), filepath.FromSlash(tt.path))
			assert.Equal(t, tt.want, got)
		})
	}
}
