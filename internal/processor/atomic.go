package processor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"adamantium/internal/formats"
	"adamantium/internal/logger"
)

// strip writes the plan's output to a temporary file next to path,
// verifies it and renames it over path. The original is untouched unless
// the rename happens.
func (c *Controller) strip(src *os.File, path string, handler formats.Handler, plan formats.Plan, res *Result) (int64, error) {
	srcInfo, err := src.Stat()
	if err != nil {
		return 0, &FileError{Kind: ErrRead, Path: path, Err: err}
	}

	var before string
	payloader, hasPayload := handler.(formats.Payloader)
	if hasPayload {
		if before, err = payloader.Payload(src); err != nil {
			return 0, &FileError{Kind: classify(err), Path: path, Err: err}
		}
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".adamantium-*.tmp")
	if err != nil {
		return 0, &FileError{Kind: ErrWrite, Path: path, Err: err}
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return 0, &FileError{Kind: ErrWrite, Path: path, Err: err}
	}

	if err := plan.Apply(src, tmpFile); err != nil {
		_ = tmpFile.Close()
		return 0, &FileError{Kind: ErrWrite, Path: path, Err: err}
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return 0, &FileError{Kind: ErrWrite, Path: path, Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return 0, &FileError{Kind: ErrWrite, Path: path, Err: err}
	}

	res.State = StateVerifying
	if err := c.verify(tmpPath, handler, before, hasPayload); err != nil {
		return 0, &FileError{Kind: ErrVerification, Path: path, Err: err}
	}

	if err := replaceFile(tmpPath, path); err != nil {
		return 0, &FileError{Kind: ErrWrite, Path: path, Err: err}
	}

	outInfo, err := os.Stat(path)
	if err != nil {
		return 0, &FileError{Kind: ErrRead, Path: path, Err: err}
	}

	return srcInfo.Size() - outInfo.Size(), nil
}

// verify re-extracts the stripped copy. It must carry no strippable
// metadata and, when the handler can fingerprint it, the same payload.
func (c *Controller) verify(tmpPath string, handler formats.Handler, before string, hasPayload bool) error {
	f, err := os.Open(tmpPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rep, err := handler.Extract(f)
	if err != nil {
		return fmt.Errorf("re-extract: %w", err)
	}
	if left := formats.Residual(rep, c.formatOptions()); len(left) > 0 {
		logger.Debugf("%s: %d fields remain after strip, first %s", tmpPath, len(left), left[0].Key())
		return fmt.Errorf("%d metadata fields remain after strip", len(left))
	}

	if !hasPayload {
		return nil
	}
	after, err := handler.(formats.Payloader).Payload(f)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	if after != before {
		return errors.New("payload changed during strip")
	}
	return nil
}

// replaceFile renames tmpPath over destPath in one step. If the rename
// fails both files are left as they were.
func replaceFile(tmpPath, destPath string) error {
	return os.Rename(tmpPath, destPath)
}
