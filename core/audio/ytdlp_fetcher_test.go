package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot2yoto/config"
	"spot2yoto/core/errs"
)

// 假的 yt-dlp：记录参数，并按 --output 模板写出 mp3
const fakeSuccess = `#!/bin/sh
echo "$@" > "$(dirname "$0")/args.txt"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
out=$(echo "$out" | sed 's/%(ext)s/mp3/')
printf 'audio' > "$out"
`

const fakeFailure = `#!/bin/sh
echo "ERROR: no video results" >&2
exit 1
`

const fakeNoOutput = `#!/bin/sh
exit 0
`

const fakeSlow = `#!/bin/sh
exec sleep 5
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newFetcher(t *testing.T, bin string, timeout int) (*YtDlpFetcher, string) {
	dir := t.TempDir()
	return NewYtDlpFetcher(config.DownloadConfig{
		Format: "mp3", OutputDir: dir, YtDlpPath: bin, TimeoutSec: timeout,
	}, nil), dir
}

func TestFetchCacheHitSkipsTool(t *testing.T) {
	f, dir := newFetcher(t, "/nonexistent/yt-dlp", 10)
	cached := filepath.Join(dir, "t1.mp3")
	require.NoError(t, os.WriteFile(cached, []byte("cached audio"), 0o644))

	got, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t1", Title: "Song", Artist: "Artist"})
	require.NoError(t, err)
	assert.Equal(t, cached, got)
}

func TestFetchCacheHitAnyFormat(t *testing.T) {
	f, dir := newFetcher(t, "/nonexistent/yt-dlp", 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t1.m4a.part"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t10.m4a"), []byte("other track"), 0o644))
	cached := filepath.Join(dir, "t1.m4a")
	require.NoError(t, os.WriteFile(cached, []byte("cached audio"), 0o644))

	got, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t1", Title: "Song", Artist: "Artist"})
	require.NoError(t, err)
	assert.Equal(t, cached, got)
}

func TestFetchIgnoresPartialDownloads(t *testing.T) {
	f, dir := newFetcher(t, writeScript(t, fakeSuccess), 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t1.mp3.part"), []byte("partial"), 0o644))

	got, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t1", Title: "Song", Artist: "Artist"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "t1.mp3"), got)
}

func TestFetchRunsSearchQuery(t *testing.T) {
	bin := writeScript(t, fakeSuccess)
	f, dir := newFetcher(t, bin, 10)

	got, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t4", Title: "Song Title", Artist: "Band Name"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "t4.mp3"), got)

	args, err := os.ReadFile(filepath.Join(filepath.Dir(bin), "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "ytsearch1:Band Name - Song Title")
	assert.Contains(t, string(args), "--audio-format mp3")
}

func TestFetchFailureCarriesDiagnostics(t *testing.T) {
	f, _ := newFetcher(t, writeScript(t, fakeFailure), 10)

	_, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t3", Title: "Song", Artist: "Artist"})

	var de *errs.DownloadError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Error(), "yt-dlp failed")
	assert.Contains(t, de.Error(), "no video results")
	assert.Equal(t, "t3", de.TrackID)
}

func TestFetchMissingOutput(t *testing.T) {
	f, _ := newFetcher(t, writeScript(t, fakeNoOutput), 10)

	_, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t5", Title: "Song", Artist: "Artist"})

	var de *errs.DownloadError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Error(), "no mp3 file")
}

func TestFetchTimeout(t *testing.T) {
	f, _ := newFetcher(t, writeScript(t, fakeSlow), 10)
	f.timeout = 200 * time.Millisecond

	start := time.Now()
	_, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t6", Title: "Song", Artist: "Artist"})

	var de *errs.DownloadError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

type memArchive struct {
	objects map[string][]byte
	stored  []string
}

func (a *memArchive) Fetch(_ context.Context, key, dst string) (bool, error) {
	data, ok := a.objects[key]
	if !ok {
		return false, nil
	}
	return true, os.WriteFile(dst, data, 0o644)
}

func (a *memArchive) Store(_ context.Context, key, _ string) error {
	a.stored = append(a.stored, key)
	return nil
}

func TestFetchUsesArchive(t *testing.T) {
	archive := &memArchive{objects: map[string][]byte{"t7.mp3": []byte("archived")}}
	dir := t.TempDir()
	f := NewYtDlpFetcher(config.DownloadConfig{Format: "mp3", OutputDir: dir, YtDlpPath: "/nonexistent", TimeoutSec: 5}, archive)

	got, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t7", Title: "Song", Artist: "Artist"})
	require.NoError(t, err)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "archived", string(data))
}

func TestFetchStoresIntoArchive(t *testing.T) {
	archive := &memArchive{objects: map[string][]byte{}}
	dir := t.TempDir()
	f := NewYtDlpFetcher(config.DownloadConfig{Format: "mp3", OutputDir: dir, YtDlpPath: writeScript(t, fakeSuccess), TimeoutSec: 5}, archive)

	_, err := f.Fetch(context.Background(), FetchRequest{TrackID: "t8", Title: "Song", Artist: "Artist"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t8.mp3"}, archive.stored)
}

func TestFileStemFallsBackToTitle(t *testing.T) {
	assert.Equal(t, "My Song", fileStem(FetchRequest{Title: "My Song"}))
	assert.Equal(t, "AC_DC", fileStem(FetchRequest{Title: "AC/DC"}))
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	sum, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}
