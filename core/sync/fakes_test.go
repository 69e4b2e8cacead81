package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"spot2yoto/config"
	"spot2yoto/core/audio"
	"spot2yoto/core/errs"
	"spot2yoto/core/yoto"
	"spot2yoto/db"
	"spot2yoto/model"
	"spot2yoto/repository"
)

func newTestRepo(t *testing.T) repository.SyncStateRepository {
	t.Helper()
	gdb, err := db.Open(config.StateConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.CloseGormDB(gdb) })
	return repository.NewGormSyncStateRepository(gdb)
}

func playlistURL(id string) string {
	return "https://open.spotify.com/playlist/" + id
}

func track(id string) model.Track {
	return model.Track{
		ID:            id,
		Title:         "Song " + id,
		Artist:        "Artist " + id,
		PrimaryArtist: "Artist " + id,
		DurationMs:    181500,
		ImageURL:      "https://i.scdn.co/" + id,
	}
}

type fakeSpotify struct {
	playlists   map[string]*model.Playlist
	unreachable map[string]bool
	fetchErr    map[string]error
	panicOn     map[string]bool
	fetches     int
}

func newFakeSpotify() *fakeSpotify {
	return &fakeSpotify{
		playlists:   make(map[string]*model.Playlist),
		unreachable: make(map[string]bool),
		fetchErr:    make(map[string]error),
		panicOn:     make(map[string]bool),
	}
}

func (f *fakeSpotify) add(id, snapshot string, tracks ...model.Track) {
	f.playlists[playlistURL(id)] = &model.Playlist{
		ID:            id,
		Name:          "Playlist " + id,
		SnapshotID:    snapshot,
		CoverImageURL: "https://i.scdn.co/cover-" + id,
		Tracks:        tracks,
	}
}

func (f *fakeSpotify) ValidateReachable(_ context.Context, u string) error {
	if f.unreachable[u] {
		return &errs.PlaylistError{URL: u, Msg: "not found"}
	}
	return nil
}

func (f *fakeSpotify) FetchPlaylist(_ context.Context, u string) (*model.Playlist, error) {
	f.fetches++
	if f.panicOn[u] {
		panic("unexpected playlist shape")
	}
	if err := f.fetchErr[u]; err != nil {
		return nil, err
	}
	p, ok := f.playlists[u]
	if !ok {
		return nil, &errs.PlaylistError{URL: u, Msg: "not found"}
	}
	cp := *p
	cp.Tracks = append([]model.Track(nil), p.Tracks...)
	return &cp, nil
}

type fakeYoto struct {
	cards        []model.Card
	listErr      error
	slots        int
	transfers    int
	polls        int
	covers       int
	icons        int
	pending      int // 每次上传先返回几次处理中
	pendingLeft  map[string]int
	knownContent bool
	iconErr      error
	pushErr      error
	pushes       []model.ContentPayload
}

func newFakeYoto(cards ...model.Card) *fakeYoto {
	return &fakeYoto{cards: cards, pendingLeft: make(map[string]int)}
}

func (f *fakeYoto) ListMYOCards(context.Context) ([]model.Card, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.cards, nil
}

func (f *fakeYoto) RequestUploadSlot(_ context.Context, _ string, filename string) (*yoto.UploadSlot, error) {
	f.slots++
	id := "up-" + filename
	f.pendingLeft[id] = f.pending
	if f.knownContent {
		return &yoto.UploadSlot{UploadID: id}, nil
	}
	return &yoto.UploadSlot{UploadURL: "https://upload.example/" + filename, UploadID: id}, nil
}

func (f *fakeYoto) TransferBytes(context.Context, string, []byte) error {
	f.transfers++
	return nil
}

func (f *fakeYoto) PollTranscode(_ context.Context, uploadID string) (*yoto.TranscodeStatus, error) {
	f.polls++
	if f.pendingLeft[uploadID] > 0 {
		f.pendingLeft[uploadID]--
		return &yoto.TranscodeStatus{Pending: true}, nil
	}
	return &yoto.TranscodeStatus{TranscodedSHA256: "tx-" + uploadID, Duration: 120, FileSize: 4096, Channels: "stereo"}, nil
}

func (f *fakeYoto) UploadCoverImage(_ context.Context, u string) (string, error) {
	f.covers++
	return "https://media.yoto/" + filepath.Base(u), nil
}

func (f *fakeYoto) UploadDisplayIcon(_ context.Context, u string) (string, error) {
	if f.iconErr != nil {
		return "", f.iconErr
	}
	f.icons++
	return "icon-" + filepath.Base(u), nil
}

func (f *fakeYoto) PushCardContent(_ context.Context, p model.ContentPayload) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, p)
	return nil
}

func (f *fakeYoto) lastPush() model.ContentPayload {
	return f.pushes[len(f.pushes)-1]
}

type fakeFetcher struct {
	dir   string
	calls map[string]int
	fail  map[string]bool
}

func newFakeFetcher(t *testing.T) *fakeFetcher {
	return &fakeFetcher{dir: t.TempDir(), calls: make(map[string]int), fail: make(map[string]bool)}
}

func (f *fakeFetcher) Fetch(_ context.Context, req audio.FetchRequest) (string, error) {
	f.calls[req.TrackID]++
	if f.fail[req.TrackID] {
		return "", &errs.DownloadError{TrackID: req.TrackID, Msg: "yt-dlp failed", Detail: "ERROR: no results"}
	}
	path := filepath.Join(f.dir, req.TrackID+".mp3")
	if err := os.WriteFile(path, []byte("audio-"+req.TrackID), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeFetcher) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

var errBoom = errors.New("boom")
