package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spot2yoto/config"
	"spot2yoto/core/audio"
	"spot2yoto/core/errs"
	"spot2yoto/logger"
	"spot2yoto/model"
	"spot2yoto/repository"
)

// PlaylistSource Spotify 歌单网关
type PlaylistSource interface {
	PlaylistValidator
	FetchPlaylist(ctx context.Context, playlistURL string) (*model.Playlist, error)
}

// CardGateway Yoto 网关中同步需要的部分
type CardGateway interface {
	CardLister
	MediaUploader
	ArtworkUploader
	PushCardContent(ctx context.Context, payload model.ContentPayload) error
}

// Deps 引擎依赖
type Deps struct {
	Playlists PlaylistSource
	Cards     CardGateway
	Fetcher   audio.Fetcher
	Repo      repository.SyncStateRepository
}

// Options 单次运行选项
type Options struct {
	DryRun  bool
	Force   bool
	Account string
}

// Engine 同步编排：发现映射后逐个、逐曲顺序处理
type Engine struct {
	deps     Deps
	cfg      config.SyncConfig
	opts     Options
	uploader *Uploader
	now      func() time.Time
}

// NewEngine 创建引擎
func NewEngine(deps Deps, cfg config.SyncConfig, opts Options) *Engine {
	return &Engine{
		deps:     deps,
		cfg:      cfg,
		opts:     opts,
		uploader: NewUploader(deps.Cards, cfg.PollInterval(), cfg.TranscodePollMaxAttempts),
		now:      time.Now,
	}
}

// Run 发现并同步所有映射。单个映射失败只计数；认证失败终止整个运行，
// 此时返回已完成部分的报告和该错误。
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	log := logger.With(zap.String("run_id", report.RunID), zap.String("account", e.opts.Account))

	mappings, err := DiscoverMappings(ctx, e.deps.Cards, e.deps.Playlists)
	if err != nil {
		log.Error("[SyncRun] 获取卡片列表失败", zap.Error(err))
		return report, err
	}
	if len(mappings) == 0 {
		log.Info("[SyncRun] 没有找到包含歌单链接的卡片")
		return report, nil
	}

	media := NewMediaResolver(e.deps.Cards, e.deps.Repo)
	for _, m := range mappings {
		res := e.syncIsolated(ctx, log, media, m)
		report.Add(res)
		if errs.IsAuth(res.Err) {
			log.Error("[SyncRun] 认证失败，终止运行", zap.Error(res.Err))
			return report, res.Err
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	log.Info("[SyncRun] 同步完成",
		zap.Int("synced", report.Synced),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("downloaded", report.Downloaded),
		zap.Int("uploaded", report.Uploaded),
		zap.Int("reused", report.Reused),
		zap.Int("removed", report.Removed))
	return report, nil
}

// syncIsolated 捕获单个映射中的 panic，保证后续映射继续执行
func (e *Engine) syncIsolated(ctx context.Context, log *zap.Logger, media *MediaResolver, m Mapping) (res MappingResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("[SyncMapping] 映射处理异常", zap.String("card_id", m.Card.ID), zap.Any("panic", r))
			res = e.failed(m, &errs.SyncError{CardID: m.Card.ID, Msg: fmt.Sprintf("unexpected panic: %v", r)})
		}
	}()
	return e.syncMapping(ctx, log.With(zap.String("card_id", m.Card.ID)), media, m)
}

func (e *Engine) failed(m Mapping, err error) MappingResult {
	return MappingResult{CardID: m.Card.ID, CardTitle: m.Card.Title, Account: e.opts.Account, Status: MappingFailed, Err: err}
}

func (e *Engine) syncMapping(ctx context.Context, log *zap.Logger, media *MediaResolver, m Mapping) MappingResult {
	res := MappingResult{CardID: m.Card.ID, CardTitle: m.Card.Title, Account: e.opts.Account}
	fail := func(msg string, err error) MappingResult {
		log.Error("[SyncMapping] "+msg, zap.Error(err))
		res.Status = MappingFailed
		if errs.IsAuth(err) {
			res.Err = err
		} else {
			res.Err = &errs.SyncError{CardID: m.Card.ID, Msg: msg, Err: err}
		}
		return res
	}

	// 1. 拉取并合并歌单
	playlists := make([]*model.Playlist, 0, len(m.PlaylistURLs))
	for _, u := range m.PlaylistURLs {
		p, err := e.deps.Playlists.FetchPlaylist(ctx, u)
		if err != nil {
			return fail("拉取歌单失败", err)
		}
		playlists = append(playlists, p)
	}
	tracks := MergePlaylists(playlists)
	fingerprint := Fingerprint(playlists)
	log.Info("[SyncMapping] 歌单已加载",
		zap.Int("playlists", len(playlists)),
		zap.Int("tracks", len(tracks)),
		zap.String("fingerprint", fingerprint))

	// 2. 指纹未变化
	state, err := e.deps.Repo.GetCardState(ctx, m.Card.ID)
	if err != nil {
		return fail("读取卡片状态失败", err)
	}
	if !e.opts.Force && state != nil && state.Fingerprint == fingerprint {
		log.Info("[SyncMapping] 卡片已是最新")
		res.Status = MappingUpToDate
		return res
	}

	// 3. 计算差异
	rows, err := e.deps.Repo.ListTracks(ctx, m.Card.ID)
	if err != nil {
		return fail("读取曲目状态失败", err)
	}
	prior := make(map[string]bool, len(rows))
	for _, r := range rows {
		prior[r.TrackID] = true
	}
	diff := ComputeDiff(tracks, prior)
	res.New, res.Removed = diff.New, diff.Removed

	// 4. 预览模式不做任何修改
	if e.opts.DryRun {
		log.Info("[SyncMapping] 预览", zap.Int("new", len(diff.New)), zap.Int("removed", len(diff.Removed)))
		res.Status = MappingPreview
		return res
	}

	// 5. 先删除，避免后面跨卡片复用时读到本卡片的旧记录
	if len(diff.Removed) > 0 {
		if err := e.deps.Repo.RemoveTracks(ctx, m.Card.ID, diff.Removed); err != nil {
			return fail("删除曲目状态失败", err)
		}
		log.Info("[SyncMapping] 已移除曲目", zap.Int("removed", len(diff.Removed)))
	}

	// 6. 下载并上传新歌，单曲失败不影响其他歌曲
	for _, t := range diff.New {
		item := e.processTrack(ctx, log, m.Card.ID, t)
		res.Items = append(res.Items, item)
		if errs.IsAuth(item.Err) {
			return fail("认证失败", item.Err)
		}
		if ctx.Err() != nil {
			return fail("运行被取消", ctx.Err())
		}
	}

	// 7. 没有增删：内容不变，只推进指纹
	if len(diff.New) == 0 && len(diff.Removed) == 0 && !e.opts.Force {
		if err := e.deps.Repo.SaveCardState(ctx, m.Card.ID, fingerprint, e.now()); err != nil {
			return fail("保存卡片状态失败", err)
		}
		log.Info("[SyncMapping] 曲目未变化，跳过重建卡片内容")
		res.Status = MappingSynced
		res.Unchanged = true
		return res
	}

	// 8-9. 封面、图标和章节
	rows, err = e.deps.Repo.ListTracks(ctx, m.Card.ID)
	if err != nil {
		return fail("读取曲目状态失败", err)
	}
	byID := make(map[string]*model.TrackSyncState, len(rows))
	for _, r := range rows {
		byID[r.TrackID] = r
	}

	payload := model.ContentPayload{
		CardID:        m.Card.ID,
		Title:         m.Card.Title,
		Description:   m.Card.Description,
		CoverImageURL: e.resolveCover(ctx, log, media, playlists),
	}
	if payload.Title == "" && len(playlists) > 0 {
		payload.Title = playlists[0].Name
	}

	positions := make(map[string]int, len(diff.All))
	for _, t := range diff.All {
		row, ok := byID[t.ID]
		if !ok || row.TranscodedSHA256 == "" {
			log.Debug("[SyncMapping] 曲目没有转码结果，不写入卡片", zap.String("track_id", t.ID))
			continue
		}
		ch := model.Chapter{
			Title:            t.DisplayTitle(),
			TranscodedSHA256: row.TranscodedSHA256,
			Duration:         row.Duration,
			FileSize:         row.FileSize,
			Channels:         row.Channels,
		}
		if ch.Duration == 0 {
			ch.Duration = t.DurationMs / 1000
		}
		if t.ImageURL != "" {
			icon, err := media.Resolve(ctx, model.MediaIcon, t.ImageURL)
			if err != nil {
				log.Warn("[SyncMapping] 图标上传失败，继续同步", zap.String("track_id", t.ID), zap.Error(err))
			} else {
				ch.IconMediaID = icon
			}
		}
		positions[t.ID] = len(payload.Chapters)
		payload.Chapters = append(payload.Chapters, ch)
	}

	// 10. 没有任何章节时不记录指纹，下次从头重试
	if len(payload.Chapters) == 0 {
		return fail("没有可写入卡片的章节", errors.New("no chapters to write"))
	}

	// 11. 推送成功后才保存指纹
	if err := e.deps.Cards.PushCardContent(ctx, payload); err != nil {
		return fail("更新卡片内容失败", err)
	}
	if err := e.deps.Repo.UpdatePositions(ctx, m.Card.ID, positions); err != nil {
		log.Warn("[SyncMapping] 更新曲目序号失败", zap.Error(err))
	}
	if err := e.deps.Repo.SaveCardState(ctx, m.Card.ID, fingerprint, e.now()); err != nil {
		return fail("保存卡片状态失败", err)
	}

	res.Status = MappingSynced
	res.Chapters = len(payload.Chapters)
	log.Info("[SyncMapping] 卡片同步完成", zap.Int("chapters", res.Chapters))
	return res
}

// resolveCover 取第一个有封面的歌单；失败只记录警告
func (e *Engine) resolveCover(ctx context.Context, log *zap.Logger, media *MediaResolver, playlists []*model.Playlist) string {
	for _, p := range playlists {
		if p.CoverImageURL == "" {
			continue
		}
		cover, err := media.Resolve(ctx, model.MediaCover, p.CoverImageURL)
		if err != nil {
			log.Warn("[SyncMapping] 封面上传失败，继续同步", zap.String("playlist_id", p.ID), zap.Error(err))
			return ""
		}
		return cover
	}
	return ""
}

// processTrack 处理一首新歌：跨卡片复用，否则下载、上传、等待转码，
// 先写入状态再清理本地文件。
func (e *Engine) processTrack(ctx context.Context, log *zap.Logger, cardID string, t model.Track) ItemResult {
	item := ItemResult{TrackID: t.ID, Title: t.DisplayTitle(), Status: ItemFailed}
	log = log.With(zap.String("track_id", t.ID))

	existing, err := e.deps.Repo.FindTrackAnyCard(ctx, t.ID)
	if err != nil {
		log.Warn("[processTrack] 查询已上传记录失败", zap.Error(err))
	}
	if existing != nil && existing.TranscodedSHA256 != "" {
		row := &model.TrackSyncState{
			TrackID:          t.ID,
			CardID:           cardID,
			Position:         t.Position,
			FileSHA256:       existing.FileSHA256,
			TranscodedSHA256: existing.TranscodedSHA256,
			Duration:         existing.Duration,
			FileSize:         existing.FileSize,
			Channels:         existing.Channels,
		}
		if err := e.deps.Repo.UpsertTrack(ctx, row); err != nil {
			item.Err = err
			log.Error("[processTrack] 保存复用记录失败", zap.Error(err))
			return item
		}
		log.Info("[processTrack] 复用其他卡片的上传结果", zap.String("from_card", existing.CardID))
		item.Status = ItemReused
		return item
	}

	log.Info("[processTrack] 下载", zap.String("title", item.Title))
	path, err := e.deps.Fetcher.Fetch(ctx, audio.FetchRequest{TrackID: t.ID, Title: t.Title, Artist: t.SearchArtist()})
	if err != nil {
		item.Err = err
		log.Error("[processTrack] 下载失败", zap.Error(err))
		return item
	}
	item.Downloaded = true

	fileSHA, err := audio.FileSHA256(path)
	if err != nil {
		item.Err = err
		log.Error("[processTrack] 计算文件摘要失败", zap.Error(err))
		return item
	}

	st, err := e.uploader.Upload(ctx, path, fileSHA)
	if err != nil {
		item.Err = err
		log.Error("[processTrack] 上传失败", zap.Error(err))
		return item
	}

	row := &model.TrackSyncState{
		TrackID:          t.ID,
		CardID:           cardID,
		Position:         t.Position,
		FileSHA256:       fileSHA,
		TranscodedSHA256: st.TranscodedSHA256,
		Duration:         st.Duration,
		FileSize:         st.FileSize,
		Channels:         st.Channels,
	}
	if err := e.deps.Repo.UpsertTrack(ctx, row); err != nil {
		item.Err = err
		log.Error("[processTrack] 保存上传结果失败", zap.Error(err))
		return item
	}
	item.Status = ItemUploaded
	log.Info("[processTrack] 上传完成", zap.String("transcoded_sha256", st.TranscodedSHA256))

	if e.cfg.CleanupDownloads {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("[processTrack] 清理下载文件失败", zap.String("path", path), zap.Error(err))
		}
	}
	return item
}
