package domain

import (
	"context"
	"io"
)

// IOStreams bundles the byte streams of a launched child process.
type IOStreams struct {
	Reader io.ReadCloser
	Writer io.WriteCloser
}

// StopFn tears down a launched process. The context bounds how long
// teardown may take before the process is killed.
type StopFn func(ctx context.Context) error
