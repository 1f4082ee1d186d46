package fifoutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCreateFIFOIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "request")

	require.NoError(t, CreateFIFO(path))
	require.NoError(t, CreateFIFO(path), "second mkfifo should tolerate EEXIST")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeNamedPipe)
}

func TestOpenWriteRetryTimesOutWithoutReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data0")
	require.NoError(t, CreateFIFO(path))

	_, err := OpenWriteRetry(path, 3, time.Millisecond)
	assert.Error(t, err)
}

func TestOpenWriteRetrySucceedsOnceReaderOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data0")
	require.NoError(t, CreateFIFO(path))

	reader, err := os.OpenFile(path, os.O_RDONLY|unixNonblockFlag(), 0)
	require.NoError(t, err)
	defer reader.Close()

	w, err := OpenWriteRetry(path, 500, time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestBytesQueued(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data0")
	require.NoError(t, CreateFIFO(path))

	rw, err := OpenReadWrite(path)
	require.NoError(t, err)
	defer rw.Close()

	n, err := BytesQueued(rw)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = rw.Write([]byte("abcde"))
	require.NoError(t, err)

	n, err = BytesQueued(rw)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestSetPipeCapacityGrantsPositiveSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data0")
	require.NoError(t, CreateFIFO(path))

	rw, err := OpenReadWrite(path)
	require.NoError(t, err)
	defer rw.Close()

	granted, err := SetPipeCapacity(rw, 64*1024)
	require.NoError(t, err)
	assert.Greater(t, granted, 0)
}

func unixNonblockFlag() int { return unix.O_NONBLOCK }
