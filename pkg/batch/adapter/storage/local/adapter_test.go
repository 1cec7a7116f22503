package local_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/local"
)

func TestAdapter_UploadDownloadListDelete(t *testing.T) {
	ctx := context.Background()
	a, err := local.NewAdapter("files", storageconfig.StorageConfig{Type: "local", BaseDir: t.TempDir(), BucketName: "in"})
	require.NoError(t, err)

	require.NoError(t, a.Upload(ctx, "", "2024/b.csv", strings.NewReader("b"), "text/csv"))
	require.NoError(t, a.Upload(ctx, "", "2024/a.csv", strings.NewReader("a"), "text/csv"))
	require.NoError(t, a.Upload(ctx, "", "other.txt", strings.NewReader("x"), "text/plain"))

	rc, err := a.Download(ctx, "in", "2024/a.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a", string(data))

	var names []string
	require.NoError(t, a.ListObjects(ctx, "", "2024/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"2024/a.csv", "2024/b.csv"}, names)

	require.NoError(t, a.DeleteObject(ctx, "", "2024/a.csv"))
	require.NoError(t, a.DeleteObject(ctx, "", "2024/a.csv"), "deleting a missing object is not an error")
	_, err = a.Download(ctx, "", "2024/a.csv")
	assert.Error(t, err)
}

func TestAdapter_RejectsPathsOutsideBaseDir(t *testing.T) {
	a, err := local.NewAdapter("files", storageconfig.StorageConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = a.Download(context.Background(), "", "../../etc/passwd")
	assert.ErrorContains(t, err, "outside of base_dir")
}

func TestAdapter_ListMissingBucket(t *testing.T) {
	a, err := local.NewAdapter("files", storageconfig.StorageConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	called := false
	require.NoError(t, a.ListObjects(context.Background(), "absent", "", func(string) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestRegistry_OpensConfiguredEntries(t *testing.T) {
	dir := t.TempDir()
	r := storage.NewRegistry(map[string]interface{}{
		"files":  map[string]interface{}{"type": "local", "base_dir": dir},
		"remote": map[string]interface{}{"type": "s3", "bucket_name": "b"},
	}, local.NewProvider())

	conn, err := r.GetConnection("files")
	require.NoError(t, err)
	assert.Equal(t, "local", conn.Type())
	again, err := r.GetConnection("files")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	_, err = r.GetConnection("remote")
	assert.ErrorContains(t, err, "no storage provider registered for type 's3'")
	_, err = r.GetConnection("missing")
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, r.CloseAll())
}
