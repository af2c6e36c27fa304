package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	objectRefPrefix = "s3://"
	fileRefPrefix   = "file://"
)

// ObjectStore is the subset of the object store client used for hand-offs.
type ObjectStore interface {
	PutFile(ctx context.Context, key, path, contentType string) (int64, error)
	GetFile(ctx context.Context, key, path string) error
	Remove(ctx context.Context, key string) error
}

// Stash moves acquired media out of request scope so a worker can pick it up
// later, and returns a reference for the job record. key must be unique. The
// handle no longer owns the file afterwards.
func (a *Acquirer) Stash(ctx context.Context, h *Handle, key string) (string, error) {
	ext := filepath.Ext(h.Path)

	if a.store != nil {
		objectKey := "jobs/" + key + ext
		if _, err := a.store.PutFile(ctx, objectKey, h.Path, ContentTypeFor(ext)); err != nil {
			return "", err
		}
		if err := h.Cleanup(); err != nil {
			a.logger.Warn("Failed to remove stashed media", slog.String("path", h.Path), slog.Any("error", err))
		}
		return objectRefPrefix + objectKey, nil
	}

	dst := filepath.Join(a.cfg.HandoffDir, key+ext)
	if err := moveFile(h.Path, dst); err != nil {
		return "", fmt.Errorf("failed to stash media: %w", err)
	}
	h.detach()
	return fileRefPrefix + dst, nil
}

// Restore materialises a stashed reference as a local handle.
func (a *Acquirer) Restore(ctx context.Context, ref string) (*Handle, error) {
	switch {
	case strings.HasPrefix(ref, objectRefPrefix):
		if a.store == nil {
			return nil, fmt.Errorf("media reference %s needs an object store", ref)
		}
		key := strings.TrimPrefix(ref, objectRefPrefix)
		ext := filepath.Ext(key)
		path := a.newPath(ext)
		if err := a.store.GetFile(ctx, key, path); err != nil {
			os.Remove(path)
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat restored media: %w", err)
		}
		return NewHandle(path, info.Size(), ContentTypeFor(ext), filepath.Base(key)), nil

	case strings.HasPrefix(ref, fileRefPrefix):
		path := strings.TrimPrefix(ref, fileRefPrefix)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stashed media is missing: %w", err)
		}
		return NewHandle(path, info.Size(), ContentTypeFor(filepath.Ext(path)), filepath.Base(path)), nil
	}
	return nil, fmt.Errorf("unknown media reference %q", ref)
}

// Discard deletes a stashed reference. Missing media is not an error.
func (a *Acquirer) Discard(ctx context.Context, ref string) error {
	switch {
	case strings.HasPrefix(ref, objectRefPrefix):
		if a.store == nil {
			return nil
		}
		return a.store.Remove(ctx, strings.TrimPrefix(ref, objectRefPrefix))
	case strings.HasPrefix(ref, fileRefPrefix):
		err := os.Remove(strings.TrimPrefix(ref, fileRefPrefix))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
