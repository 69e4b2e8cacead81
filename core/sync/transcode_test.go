package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot2yoto/core/errs"
	"spot2yoto/model"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t1.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	return path
}

func TestUploaderPollsUntilResolved(t *testing.T) {
	gw := newFakeYoto()
	gw.pending = 2
	u := NewUploader(gw, time.Second, 5)
	var slept []time.Duration
	u.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	st, err := u.Upload(context.Background(), writeAudio(t), "sha")
	require.NoError(t, err)
	assert.Equal(t, "tx-up-t1.mp3", st.TranscodedSHA256)
	assert.Equal(t, 1, gw.transfers)
	assert.Equal(t, 3, gw.polls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, slept)
}

func TestUploaderSkipsTransferForKnownContent(t *testing.T) {
	gw := newFakeYoto()
	gw.knownContent = true
	u := NewUploader(gw, 0, 3)

	st, err := u.Upload(context.Background(), writeAudio(t), "sha")
	require.NoError(t, err)
	assert.False(t, st.Pending)
	assert.Zero(t, gw.transfers)
}

func TestUploaderTimesOut(t *testing.T) {
	gw := newFakeYoto()
	gw.pending = 100
	u := NewUploader(gw, 0, 4)

	_, err := u.Upload(context.Background(), writeAudio(t), "sha")
	var te *errs.TranscodeTimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 4, te.Attempts)
	assert.Equal(t, "up-t1.mp3", te.UploadID)
	assert.Equal(t, 4, gw.polls)
}

func TestUploaderStopsOnCancel(t *testing.T) {
	gw := newFakeYoto()
	gw.pending = 100
	u := NewUploader(gw, time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := u.Upload(ctx, writeAudio(t), "sha")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, gw.polls)
}

func TestMediaResolverCachesSuccessOnly(t *testing.T) {
	gw := newFakeYoto()
	repo := newTestRepo(t)
	ctx := context.Background()

	gw.iconErr = errBoom
	r := NewMediaResolver(gw, repo)
	_, err := r.Resolve(ctx, model.MediaIcon, "https://i.scdn.co/a")
	require.ErrorIs(t, err, errBoom)
	entry, err := repo.GetMedia(ctx, "https://i.scdn.co/a")
	require.NoError(t, err)
	assert.Nil(t, entry)

	gw.iconErr = nil
	id, err := r.Resolve(ctx, model.MediaIcon, "https://i.scdn.co/a")
	require.NoError(t, err)
	assert.Equal(t, "icon-a", id)
	_, err = r.Resolve(ctx, model.MediaIcon, "https://i.scdn.co/a")
	require.NoError(t, err)
	assert.Equal(t, 1, gw.icons)

	// 新的运行从持久缓存读取
	id, err = NewMediaResolver(gw, repo).Resolve(ctx, model.MediaIcon, "https://i.scdn.co/a")
	require.NoError(t, err)
	assert.Equal(t, "icon-a", id)
	assert.Equal(t, 1, gw.icons)

	cover, err := r.Resolve(ctx, model.MediaCover, "https://i.scdn.co/c")
	require.NoError(t, err)
	assert.Equal(t, "https://media.yoto/c", cover)
	assert.Equal(t, 1, gw.covers)
}

func TestReportExitCodes(t *testing.T) {
	r := &Report{}
	assert.Equal(t, 0, r.ExitCode())

	r.Add(MappingResult{Status: MappingSynced, Removed: []string{"x"}, Items: []ItemResult{
		{Status: ItemUploaded, Downloaded: true},
		{Status: ItemReused},
		{Status: ItemFailed, Downloaded: true},
	}})
	assert.Equal(t, 0, r.ExitCode())
	assert.Equal(t, 2, r.Downloaded)
	assert.Equal(t, 1, r.Uploaded)
	assert.Equal(t, 1, r.Reused)
	assert.Equal(t, 1, r.Removed)

	r.Add(MappingResult{Status: MappingPreview, Removed: []string{"y"}})
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Removed)

	r.Add(MappingResult{Status: MappingFailed})
	assert.Equal(t, 1, r.ExitCode())

	all := &Report{}
	all.Add(MappingResult{Status: MappingFailed})
	all.Add(MappingResult{Status: MappingFailed})
	assert.Equal(t, 2, all.ExitCode())

	merged := &Report{}
	merged.Merge(r)
	merged.Merge(nil)
	assert.Equal(t, 3, merged.Total())
	assert.Equal(t, 1, merged.Failed)
	assert.Equal(t, "synced", MappingSynced.String())
	assert.Equal(t, "reused", ItemReused.String())
}
