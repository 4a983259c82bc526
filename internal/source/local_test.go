package source

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcga-expression-pipeline/internal/domain"
)

func TestLocal_FetchSizeUpload(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/xena/brca.tsv", []byte(sampleMatrix), 0o644))

	src := NewLocal(fs, "/data")
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := src.Fetch(ctx, "file://xena/brca.tsv", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(sampleMatrix)), n)
	assert.Equal(t, sampleMatrix, buf.String())

	size, err := src.Size(ctx, "xena/brca.tsv")
	require.NoError(t, err)
	assert.Equal(t, n, size)

	_, err = src.Fetch(ctx, "../etc/passwd", &buf)
	assert.ErrorIs(t, err, domain.ErrNotFound, "keys cannot leave the root")

	_, err = src.Size(ctx, "nope.tsv")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, src.Upload(ctx, "archive/TCGA-BRCA/brca.tsv", strings.NewReader(sampleMatrix), -1))
	data, err := afero.ReadFile(fs, "/data/archive/TCGA-BRCA/brca.tsv")
	require.NoError(t, err)
	assert.Equal(t, sampleMatrix, string(data))
}

func TestLocal_Unrooted(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "relative/brca.tsv", []byte(sampleMatrix), 0o644))

	src := NewLocal(fs, "")
	size, err := src.Size(context.Background(), "relative/brca.tsv")
	require.NoError(t, err)
	assert.Equal(t, int64(len(sampleMatrix)), size)
}

func TestIsMatrixFile(t *testing.T) {
	tests := map[string]bool{
		"brca.tsv":        true,
		"BRCA.TSV":        true,
		"brca.txt.gz":     true,
		"dir/luad.tsv.gz": true,
		"brca.csv":        false,
		"brca.gz":         false,
		"README":          false,
	}
	for key, want := range tests {
		assert.Equal(t, want, IsMatrixFile(key), key)
	}
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	src, err := Open(ctx, domain.StorageConfig{Driver: "local", RootDir: "/data"}, fs, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &Local{}, src)

	src, err = Open(ctx, domain.StorageConfig{Driver: "HTTP", Endpoint: "https://tcga.xenahubs.net/download"}, fs, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, src)

	_, err = Open(ctx, domain.StorageConfig{Driver: "ftp"}, fs, quietLogger())
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(ctx, domain.StorageConfig{Driver: "minio"}, fs, quietLogger())
	assert.ErrorContains(t, err, "bucket required")

	archive, err := OpenArchive(ctx, domain.StorageConfig{}, fs, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, archive)

	archive, err = OpenArchive(ctx, domain.StorageConfig{ArchiveDriver: "local", ArchiveDir: "/archive"}, fs, quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, archive)

	_, err = OpenArchive(ctx, domain.StorageConfig{ArchiveDriver: "local"}, fs, quietLogger())
	assert.Error(t, err)
}
