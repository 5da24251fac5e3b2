package attachment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) FSStore {
	t.Helper()
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	return FSStore{Root: t.TempDir(), Now: func() time.Time { return fixed }}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ref, err := s.Put(ctx, "emp-1", "Resume.PDF", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "emp-1/1741064767000.pdf", ref)
	assert.Equal(t, "emp-1", Owner(ref))

	data, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestPutSameMillisecondGetsDistinctRefs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a, err := s.Put(ctx, "emp-1", "a.doc", []byte("a"))
	require.NoError(t, err)
	b, err := s.Put(ctx, "emp-1", "b.doc", []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPutRejects(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	s.Limits = Limits{MaxBytes: 4}

	_, err := s.Put(ctx, "emp-1", "cv.pdf", nil)
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = s.Put(ctx, "emp-1", "cv.pdf", []byte("too big"))
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = s.Put(ctx, "emp-1", "cv.exe", []byte("x"))
	assert.ErrorIs(t, err, ErrType)
	_, err = s.Put(ctx, "../etc", "cv.pdf", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestDefaultLimits(t *testing.T) {
	var l Limits
	_, err := l.Check("cv.docx", DefaultMaxSize)
	require.NoError(t, err)
	_, err = l.Check("cv.docx", DefaultMaxSize+1)
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = l.Check("cv.txt", 10)
	assert.ErrorIs(t, err, ErrType)
}

func TestGetRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, ref := range []string{"", "../x", "emp/../../x", "emp", strings.Repeat("a", 3)} {
		_, err := s.Get(ctx, ref)
		assert.Error(t, err, ref)
	}
	_, err := s.Get(ctx, "emp-1/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}
