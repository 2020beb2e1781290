package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"bomflow/internal/config"
	"bomflow/internal/storage"
)

func TestFetch_SameObjectNameDoesNotCollide(t *testing.T) {
	t.Parallel()

	objects := map[string]string{
		"/a/bom/export.csv": "Designator,Part Number\nC1,GRM155\n",
		"/b/pnp/export.csv": "Designator,X,Y\nC1,1,2\n",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := objects[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	src, err := storage.NewSource(context.Background(), config.StorageConfig{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	}, nil)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	c := NewCoordinator(nil, nil, Options{Source: src, WorkDir: t.TempDir()})
	r := &jobRun{c: c, job: Job{ID: "fetch"}, logger: c.logger}
	t.Cleanup(r.cleanup)

	bomPath, err := r.fetch(context.Background(), "s3://a/bom/export.csv", "bom")
	if err != nil {
		t.Fatalf("fetch bom: %v", err)
	}
	coordPath, err := r.fetch(context.Background(), "s3://b/pnp/export.csv", "coordinates")
	if err != nil {
		t.Fatalf("fetch coordinates: %v", err)
	}
	if bomPath == coordPath {
		t.Fatalf("inputs share a local path: %s", bomPath)
	}

	for p, want := range map[string]string{bomPath: objects["/a/bom/export.csv"], coordPath: objects["/b/pnp/export.csv"]} {
		data, err := os.ReadFile(p)
		if err != nil || string(data) != want {
			t.Fatalf("%s: got %q err=%v", p, data, err)
		}
	}
}
