package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dagger/cumdach/internal/dagger"
)

// Build compiles the cumdach CLI for every supported OS/arch pair and
// returns a directory of binaries laid out as <goos>/<goarch>/cumdach.
func (c *Cumdach) Build(
	ctx context.Context,

	// Linker flags for go build
	// +optional
	// +default="-s -w"
	ldflags string,
) *dagger.Directory {
	gooses := []string{"linux", "darwin"}
	goarches := []string{"amd64", "arm64"}

	outputs := dag.Directory()

	golang := dag.Container().
		From("golang:1.25-alpine").
		WithEnvVariable("CGO_ENABLED", "0").
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithDirectory("/src", c.Source).
		WithWorkdir("/src")

	for _, goos := range gooses {
		for _, goarch := range goarches {
			path := fmt.Sprintf("%s/%s/", goos, goarch)

			build := golang.
				WithEnvVariable("GOOS", goos).
				WithEnvVariable("GOARCH", goarch).
				WithExec([]string{"go", "build", "-ldflags", ldflags, "-o", path, "./cli/cumdach"})

			outputs = outputs.WithDirectory(path, build.Directory(path))
		}
	}

	return outputs
}

// BuildRelease compiles versioned release binaries with embedded version info
func (c *Cumdach) BuildRelease(
	ctx context.Context,

	// Version string of build
	version string,

	// Git commit SHA of build
	commit string,
) *dagger.Directory {
	buildDate := time.Now().UTC().Format(time.RFC3339)

	ldflags := []string{
		"-s",
		"-w",
		fmt.Sprintf("-X 'github.com/amach-health/cumdach/pkg/utils.Version=%s'", version),
		fmt.Sprintf("-X 'github.com/amach-health/cumdach/pkg/utils.Commit=%s'", commit),
		fmt.Sprintf("-X 'github.com/amach-health/cumdach/pkg/utils.BuildDate=%s'", buildDate),
	}

	return c.Build(ctx, strings.Join(ldflags, " "))
}
