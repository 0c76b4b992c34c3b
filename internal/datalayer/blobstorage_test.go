package datalayer_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/glizzus/opuskit/internal/config"
	"github.com/glizzus/opuskit/internal/datalayer"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
)

func startMinio(t *testing.T) *datalayer.MinioStorage {
	t.Helper()
	ctx := t.Context()
	container, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		tcminio.WithUsername("opuskit"),
		tcminio.WithPassword("opuskit-secret"),
	)
	if err != nil {
		t.Fatalf("failed to start minio container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate minio container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	storage, err := datalayer.NewMinioStorage(&config.MinioConfig{
		Endpoint: endpoint,
		Username: container.Username,
		Password: container.Password,
		Bucket:   "media",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		t.Fatal(err)
	}
	// A second call finds the bucket already there.
	if err := storage.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket() again: %v", err)
	}
	return storage
}

func TestMinioStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker for minio")
	}
	storage := startMinio(t)
	resolver := &datalayer.Resolver{Objects: storage}
	ctx := t.Context()

	loc, err := datalayer.ParseLocator("s3://media/out/voice.opus")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resolver.Open(ctx, loc); !errors.Is(err, datalayer.ErrNotFound) {
		t.Fatalf("Open() before upload error = %v, want ErrNotFound", err)
	}

	out, err := resolver.Create(ctx, loc)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(out, "OggS and more"); err != nil {
		t.Fatal(err)
	}
	if err := out.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	assertObject(t, resolver, loc, "OggS and more")

	t.Run("abort keeps partial", func(t *testing.T) {
		dest, err := datalayer.ParseLocator("s3://media/out/cut.wav")
		if err != nil {
			t.Fatal(err)
		}
		out, err := resolver.Create(ctx, dest)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(out, "RIFF"); err != nil {
			t.Fatal(err)
		}
		kept, err := out.Abort(ctx, true)
		if err != nil {
			t.Fatal(err)
		}
		if want := "s3://media/out/cut.wav.partial"; kept != want {
			t.Fatalf("Abort() kept %q, want %q", kept, want)
		}
		if _, err := resolver.Open(ctx, dest); !errors.Is(err, datalayer.ErrNotFound) {
			t.Errorf("destination exists after Abort: %v", err)
		}
		assertObject(t, resolver, dest.WithSuffix(datalayer.PartialSuffix), "RIFF")
	})
}

func assertObject(t *testing.T, storage datalayer.MediaStorage, loc datalayer.Locator, want string) {
	t.Helper()
	obj, err := storage.Open(t.Context(), loc)
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()
	got, err := io.ReadAll(obj)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Errorf("%s = %q, want %q", loc, got, want)
	}
}
