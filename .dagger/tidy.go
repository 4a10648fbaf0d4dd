package main

import (
	"context"
	"errors"
	"fmt"

	"dagger/cumdach/internal/dagger"
)

// CheckGoModTidy fails when "go mod tidy" would change go.mod or go.sum,
// which means the caller forgot to tidy before committing.
//
// +check
func (c *Cumdach) CheckGoModTidy(ctx context.Context) (string, error) {
	if _, err := c.goContainer().
		WithExec([]string{"go", "mod", "tidy", "-diff"}).
		Stdout(ctx); err != nil {
		var e *dagger.ExecError
		if errors.As(err, &e) {
			return "", fmt.Errorf(
				"go.mod or go.sum are not tidy: run 'go mod tidy' and commit the changes\n\n%s",
				e.Stdout,
			)
		}
		return "", fmt.Errorf("unexpected error: %w", err)
	}

	return "go.mod and go.sum are tidy", nil
}
