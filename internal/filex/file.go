// Package filex provides small filesystem helpers shared by the store and
// the maintenance CLI.
package filex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
)

// EnsureDir creates the parent directory of path if it does not exist yet
// and returns it.
func EnsureDir(path string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// WriteFileAtomic writes data to path by first writing a temporary file in
// the same directory, syncing it, and renaming it over the target. An
// interrupted write can therefore never leave a half-written file behind.
//
// The final rename is retried with a short constant backoff: on some
// platforms another process (virus scanner, indexer) can hold the target
// open for a moment and make the rename fail transiently.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if _, err := EnsureDir(path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewConstant(50*time.Millisecond))
	err = retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		if err := os.Rename(tmpName, path); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
