package streams

import (
	"errors"
	"fmt"
	"os"
)

// Spec describes where the child's standard streams are redirected.
// A nil path means the null device: an empty source for stdin, a
// discard sink for stdout and stderr.
type Spec struct {
	// Stdin is the path of the file to feed to the child's stdin.
	Stdin *string `conf:"stdin"`

	// Stdout is the path of the file receiving the child's stdout.
	Stdout *string `conf:"stdout"`

	// Stderr is the path of the file receiving the child's stderr.
	Stderr *string `conf:"stderr"`
}

// Merge reports whether stderr should be merged into the stdout
// handle. This is the case when both targets resolve to the same
// path, including both being unset. Opening the same file twice
// would leave two writers contending for offsets, so a single
// handle is shared instead.
func (s Spec) Merge() bool {
	if s.Stdout == nil && s.Stderr == nil {
		return true
	}
	if s.Stdout != nil && s.Stderr != nil {
		return *s.Stdout == *s.Stderr
	}
	return false
}

// Bindings holds the resolved stream handles for a child process.
// When the merge rule applies, Stderr returns the stdout handle
// and no second sink is opened.
type Bindings struct {
	stdin  *os.File
	stdout *os.File
	stderr *os.File
	merged bool
}

// Resolve opens the stream handles described by the spec.
func Resolve(spec Spec) (*Bindings, error) {
	stdin, err := openSource(spec.Stdin)
	if err != nil {
		return nil, err
	}

	stdout, err := openSink(spec.Stdout)
	if err != nil {
		stdin.Close()
		return nil, err
	}

	if spec.Merge() {
		return &Bindings{stdin: stdin, stdout: stdout, merged: true}, nil
	}

	stderr, err := openSink(spec.Stderr)
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}

	return &Bindings{stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// Stdin returns the readable source for the child's stdin.
func (b *Bindings) Stdin() *os.File {
	return b.stdin
}

// Stdout returns the writable sink for the child's stdout.
func (b *Bindings) Stdout() *os.File {
	return b.stdout
}

// Stderr returns the writable sink for the child's stderr. When
// stderr is merged, this is the same handle as Stdout.
func (b *Bindings) Stderr() *os.File {
	if b.merged {
		return b.stdout
	}
	return b.stderr
}

// Merged reports whether stderr shares the stdout handle.
func (b *Bindings) Merged() bool {
	return b.merged
}

// Close releases all handles held by the bindings.
func (b *Bindings) Close() error {
	errs := []error{b.stdin.Close(), b.stdout.Close()}
	if b.stderr != nil {
		errs = append(errs, b.stderr.Close())
	}
	return errors.Join(errs...)
}

func openSource(path *string) (*os.File, error) {
	name := os.DevNull
	if path != nil {
		name = *path
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream source %q: %w", name, err)
	}

	return f, nil
}

func openSink(path *string) (*os.File, error) {
	name := os.DevNull
	if path != nil {
		name = *path
	}

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream sink %q: %w", name, err)
	}

	return f, nil
}
