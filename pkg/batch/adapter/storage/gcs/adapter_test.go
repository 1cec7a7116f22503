package gcs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
)

func TestNewAdapter_CreateBucketNeedsProject(t *testing.T) {
	_, err := NewAdapter(context.Background(), "archive", storageconfig.StorageConfig{
		Endpoint:     "http://localhost:4443/storage/v1/",
		BucketName:   "exports",
		CreateBucket: true,
	})
	assert.ErrorContains(t, err, "project_id")
}

func TestAdapter_DeleteObject(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/storage/v1/b/exports/o/missing.csv" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a, err := NewAdapter(context.Background(), "archive", storageconfig.StorageConfig{
		Endpoint:   srv.URL + "/storage/v1/",
		BucketName: "exports",
	})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "gcs", a.Type())

	require.NoError(t, a.DeleteObject(context.Background(), "", "out.parquet"))
	require.NoError(t, a.DeleteObject(context.Background(), "", "missing.csv"), "a missing object is not an error")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"DELETE /storage/v1/b/exports/o/out.parquet",
		"DELETE /storage/v1/b/exports/o/missing.csv",
	}, paths)
}
