// Cumdach CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub
// actions. It is the main harness for handling nearly all dev operations.
package main

import (
	"context"

	"dagger/cumdach/internal/dagger"
)

// Cumdach is the main module for the Cumdach CI/CD pipeline
type Cumdach struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Cumdach CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".direnv", "build", "tmp"]
	source *dagger.Directory,
) *Cumdach {
	return &Cumdach{
		Source: source,
	}
}

// goContainer returns a Go container with the module and build caches mounted
// and the project source checked out at /src. The sqlite driver is pure Go,
// so everything runs with CGO disabled.
//
// It is the shared foundation for tests, builds, and linting.
func (c *Cumdach) goContainer() *dagger.Container {
	return dag.Container().
		From("golang:1.25-bookworm").
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithWorkdir("/src").
		WithDirectory("/src", c.Source)
}

// Test runs the cumdach unit tests via "go test"
func (c *Cumdach) Test(ctx context.Context) (string, error) {
	return c.goContainer().
		WithExec([]string{"go", "test", "-v", "./..."}).
		Stdout(ctx)
}

// TestS3 runs the S3 vault backend suite against a throwaway MinIO service.
// The suite skips itself unless CUMDACH_TEST_S3_ENDPOINT is set, so this is
// the one place it exercises a real object store.
func (c *Cumdach) TestS3(ctx context.Context) (string, error) {
	minio := dag.Container().
		From("minio/minio:latest").
		WithExposedPort(9000).
		AsService(dagger.ContainerAsServiceOpts{
			Args: []string{"minio", "server", "/data"},
		})

	return c.goContainer().
		WithServiceBinding("minio", minio).
		WithEnvVariable("CUMDACH_TEST_S3_ENDPOINT", "http://minio:9000").
		WithExec([]string{"go", "test", "-v", "./pkg/vault/s3/..."}).
		Stdout(ctx)
}
