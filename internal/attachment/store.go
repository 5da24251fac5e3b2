// Package attachment stores candidate resumes.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("attachment not found")
	ErrEmpty       = errors.New("attachment is empty")
	ErrTooLarge    = errors.New("attachment exceeds size limit")
	ErrType        = errors.New("attachment type not allowed")
	ErrInvalidRef  = errors.New("invalid attachment reference")
	DefaultMaxSize = int64(10 << 20)
)

type Store interface {
	Put(ctx context.Context, ownerID, filename string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type Limits struct {
	MaxBytes   int64
	Extensions []string
}

// Check validates name and size and returns the lower-case extension.
func (l Limits) Check(name string, size int64) (string, error) {
	if size == 0 {
		return "", ErrEmpty
	}
	max := l.MaxBytes
	if max <= 0 {
		max = DefaultMaxSize
	}
	if size > max {
		return "", fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, size, max)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	allowed := l.Extensions
	if len(allowed) == 0 {
		allowed = []string{"pdf", "doc", "docx"}
	}
	for _, a := range allowed {
		if ext == a {
			return ext, nil
		}
	}
	return "", fmt.Errorf("%w: .%s", ErrType, ext)
}

// Owner returns the owner id encoded in ref.
func Owner(ref string) string {
	owner, _, ok := strings.Cut(ref, "/")
	if !ok {
		return ""
	}
	return owner
}

// FSStore keeps files under Root as {owner}/{unix millis}.{ext}.
type FSStore struct {
	Root   string
	Limits Limits
	Now    func() time.Time
}

func (s FSStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s FSStore) Put(ctx context.Context, ownerID, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validSegment(ownerID) {
		return "", ErrInvalidRef
	}
	ext, err := s.Limits.Check(filename, int64(len(data)))
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.Root, ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	millis := s.now().UnixMilli()
	for attempt := 0; attempt < 100; attempt++ {
		name := strconv.FormatInt(millis+int64(attempt), 10) + "." + ext
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return path.Join(ownerID, name), nil
	}
	return "", fmt.Errorf("no free attachment name for %s", ownerID)
}

func (s FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	owner, name, ok := strings.Cut(ref, "/")
	if !ok || !validSegment(owner) || !validSegment(name) {
		return nil, ErrInvalidRef
	}
	data, err := os.ReadFile(filepath.Join(s.Root, owner, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
