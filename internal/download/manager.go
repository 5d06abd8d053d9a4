package download

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/handiism/podcatcher/internal/archive"
	"github.com/handiism/podcatcher/internal/audio"
	"github.com/handiism/podcatcher/internal/config"
	"github.com/handiism/podcatcher/internal/http"
	ioutils "github.com/handiism/podcatcher/internal/io"
	"github.com/handiism/podcatcher/internal/model"
	"github.com/handiism/podcatcher/internal/transport"
	"golang.org/x/sync/errgroup"
)

// NoticeLevel indicates the severity/type of a notice.
type NoticeLevel int

const (
	LevelInfo NoticeLevel = iota
	LevelVerbose
	LevelWarning
	LevelError
	LevelSuccess
)

// Notice is a human-readable message about the download run.
type Notice struct {
	Message string
	Level   NoticeLevel
}

// Manager owns a queue of episodes and drives them through download tasks.
//
// Run executes at most MaxConcurrentDownloads tasks at a time, registers
// each with the StatusManager, retries failed transfers with an exponential
// cooldown and post-processes completed episodes (tags, archive, playlist).
type Manager struct {
	settings     *config.Settings
	registry     *transport.Registry
	client       *http.Client
	status       *StatusManager
	tagger       *audio.Tagger
	playlist     *audio.PlaylistCreator
	imageService *ioutils.ImageService
	archiver     *archive.Archiver
	log          *slog.Logger

	mu        sync.Mutex
	queue     []*model.Episode
	episodes  map[string]*model.Episode
	tasks     map[string]*Task
	completed []*model.Episode
	artwork   map[string][]byte
	runCtx    context.Context

	onNotice func(Notice)
}

// NewManager creates a Manager that reports to status. HTTP and HTTPS
// transports are registered from settings.
func NewManager(settings *config.Settings, status *StatusManager, onNotice func(Notice)) *Manager {
	client := http.NewClient(settings.ToHTTPOptions())
	registry := transport.NewRegistry()
	client.Register(registry)

	var tagger *audio.Tagger
	if settings.ModifyTags || settings.SaveArtworkInTags {
		cfg := audio.DefaultTagConfig()
		cfg.ModifyTags = settings.ModifyTags
		tagger = audio.NewTagger(cfg)
	}

	m := &Manager{
		settings:     settings,
		registry:     registry,
		client:       client,
		status:       status,
		tagger:       tagger,
		playlist:     audio.NewPlaylistCreator(settings.Playlist(), settings.M3UExtended),
		imageService: ioutils.NewImageService(),
		log:          slog.Default(),
		episodes:     make(map[string]*model.Episode),
		tasks:        make(map[string]*Task),
		artwork:      make(map[string][]byte),
		runCtx:       context.Background(),
		onNotice:     onNotice,
	}

	status.Subscribe(&StatusObserver{OnDownloadCompleted: m.postProcess})
	return m
}

// SetArchiver enables copying completed episodes into a bucket.
func (m *Manager) SetArchiver(a *archive.Archiver) {
	m.mu.Lock()
	m.archiver = a
	m.mu.Unlock()
}

// SetLogger replaces the logger passed to tasks.
func (m *Manager) SetLogger(l *slog.Logger) {
	m.log = l
}

// Registry returns the transport registry so callers can add schemes.
func (m *Manager) Registry() *transport.Registry {
	return m.registry
}

// Enqueue adds episodes to the queue. Episodes without a directory are
// placed in settings.DownloadsPath. A key already known to the manager is
// skipped.
func (m *Manager) Enqueue(eps ...*model.Episode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ep := range eps {
		if _, ok := m.episodes[ep.Key]; ok {
			continue
		}
		if ep.Directory == "" {
			ep.Directory = m.settings.DownloadsPath
		}
		m.episodes[ep.Key] = ep
		m.queue = append(m.queue, ep)
	}
}

// EnqueueURLs creates an episode per http(s) URL found in input, one per
// line, keyed by the URL itself.
func (m *Manager) EnqueueURLs(input string) int {
	var eps []*model.Episode
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			eps = append(eps, model.NewEpisode(line, line, "", -1))
		}
	}
	m.Enqueue(eps...)
	return len(eps)
}

// Run downloads every queued episode and returns once all of them have
// finished. When ctx ends, running transfers stop as Failed and keep their
// temp files so a later run resumes them.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	eps := m.queue
	m.queue = nil
	m.runCtx = ctx
	m.mu.Unlock()

	if len(eps) == 0 {
		return nil
	}

	if !m.settings.SkipHeadScan {
		m.prefill(ctx, eps)
	}

	g := new(errgroup.Group)
	g.SetLimit(m.settings.MaxConcurrentDownloads)

	for _, ep := range eps {
		ep := ep // capture
		g.Go(func() error {
			m.download(ctx, ep)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	m.writePlaylists()
	return ctx.Err()
}

// Cancel stops the episode with the given key, discarding its partial
// download. It returns false for unknown or already finished episodes.
func (m *Manager) Cancel(key string) bool {
	m.mu.Lock()
	ep := m.episodes[key]
	m.mu.Unlock()

	if ep == nil {
		return false
	}
	// Waiting between retries
	if ep.Active() && ep.CompareAndSwapState(model.StateFailed, model.StateCancelRequested) {
		return true
	}
	return ep.RequestCancel()
}

// Completed returns the episodes completed so far, in completion order.
func (m *Manager) Completed() []*model.Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Episode(nil), m.completed...)
}

// prefill fills in unknown lengths and remote modification times with HEAD
// requests so totals are known up front and stale temp files are detected.
func (m *Manager) prefill(ctx context.Context, eps []*model.Episode) {
	g := new(errgroup.Group)
	g.SetLimit(m.settings.MaxConcurrentDownloads)

	for _, ep := range eps {
		ep := ep // capture
		if !strings.HasPrefix(ep.URI, "http://") && !strings.HasPrefix(ep.URI, "https://") {
			continue
		}
		g.Go(func() error {
			info, err := m.client.Head(ctx, ep.URI)
			if err != nil {
				m.notice(LevelVerbose, "Could not get size of %s: %v", ep.DisplayTitle(), err)
				return nil
			}
			if ep.Length() < 0 && info.Size > 0 {
				ep.SetLength(info.Size)
			}
			if !info.LastModified.IsZero() {
				ep.SetLastModified(info.LastModified)
			}
			return nil
		})
	}
	g.Wait()
}

func (m *Manager) download(ctx context.Context, ep *model.Episode) {
	maxTries := m.settings.DownloadMaxRetries
	if maxTries < 1 {
		maxTries = 1
	}
	bufferSize, _ := m.settings.BufferBytes()

	for tries := 0; ; tries++ {
		attempt := tries
		task, err := Create(m.registry, ep, Options{
			TempDir:       m.settings.TempPath,
			TempExtension: m.settings.TempExtension,
			BufferSize:    bufferSize,
			Logger:        m.log,
			Retry: func(t *Task) bool {
				return ctx.Err() == nil && attempt+1 < maxTries
			},
		})
		if err != nil {
			m.notice(LevelError, "Cannot download %s: %v", ep.DisplayTitle(), err)
			ep.SetState(model.StateFailed)
			ep.SetActive(false)
			return
		}

		if err := m.status.Register(task); err != nil {
			m.notice(LevelError, "Cannot track %s: %v", ep.DisplayTitle(), err)
			return
		}

		m.setTask(ep.Key, task)
		if err := task.ExecuteContext(ctx); err != nil {
			m.notice(LevelError, "Cannot start %s: %v", ep.DisplayTitle(), err)
			m.setTask(ep.Key, nil)
			return
		}
		task.Wait()
		m.setTask(ep.Key, nil)

		if !ep.Active() {
			m.report(ep, task)
			return
		}

		m.notice(LevelWarning, "Retry %d/%d for %s: %v", tries+1, maxTries-1, ep.DisplayTitle(), task.Err())
		m.waitForRetry(ctx, tries)
		// A Cancel while waiting leaves CancelRequested in place so the
		// next task stops immediately and cleans up.
		ep.CompareAndSwapState(model.StateFailed, model.StateQueued)
	}
}

func (m *Manager) report(ep *model.Episode, task *Task) {
	switch ep.State() {
	case model.StateCompleted:
		m.notice(LevelVerbose, "Downloaded: %s", filepath.Base(ep.LocalPath()))
	case model.StateCanceled:
		m.notice(LevelInfo, "Canceled: %s", ep.DisplayTitle())
	case model.StateFailed:
		m.notice(LevelError, "Error downloading %s: %v", ep.DisplayTitle(), task.Err())
	}
}

// postProcess runs on the task goroutine before Finished, so it completes
// before the owning download call returns.
func (m *Manager) postProcess(ev CompletedEvent) {
	ep := ev.Episode

	m.mu.Lock()
	if m.episodes[ep.Key] != ep {
		m.mu.Unlock()
		return
	}
	m.completed = append(m.completed, ep)
	ctx := m.runCtx
	archiver := m.archiver
	m.mu.Unlock()

	if m.tagger != nil && isMP3(ep) {
		var artwork []byte
		if m.settings.SaveArtworkInTags && ep.ArtworkURL != "" {
			artwork = m.fetchArtwork(ctx, ep.ArtworkURL)
		}
		if err := m.tagger.SaveTags(ep.LocalPath(), ep, artwork); err != nil {
			m.notice(LevelWarning, "Error tagging %s: %v", ep.DisplayTitle(), err)
		}
	}

	if archiver != nil {
		key, err := archiver.Store(ctx, ep)
		if err != nil {
			m.notice(LevelWarning, "Error archiving %s: %v", ep.DisplayTitle(), err)
		} else {
			m.notice(LevelVerbose, "Archived %s as %s", ep.DisplayTitle(), key)
		}
	}
}

// fetchArtwork downloads and prepares artwork, caching it per URL since
// episodes of one podcast usually share a cover.
func (m *Manager) fetchArtwork(ctx context.Context, uri string) []byte {
	m.mu.Lock()
	art, ok := m.artwork[uri]
	m.mu.Unlock()
	if ok {
		return art
	}

	var data []byte
	var err error
	for tries := 0; tries < m.settings.DownloadMaxRetries; tries++ {
		data, err = m.client.GetBytes(ctx, uri)
		if err == nil {
			break
		}
		m.waitForRetry(ctx, tries)
	}
	if err != nil {
		m.notice(LevelWarning, "Error downloading artwork %s: %v", uri, err)
		return nil
	}

	art, err = m.imageService.PrepareArtwork(ctx, data, m.settings.ArtworkMaxSize)
	if err != nil {
		m.notice(LevelWarning, "Error converting artwork %s: %v", uri, err)
		art = nil
	}

	m.mu.Lock()
	m.artwork[uri] = art
	m.mu.Unlock()
	return art
}

// writePlaylists writes one playlist per target directory.
func (m *Manager) writePlaylists() {
	if !m.settings.CreatePlaylist {
		return
	}

	byDir := make(map[string][]*model.Episode)
	var dirs []string
	for _, ep := range m.Completed() {
		dir := filepath.Dir(ep.LocalPath())
		if _, ok := byDir[dir]; !ok {
			dirs = append(dirs, dir)
		}
		byDir[dir] = append(byDir[dir], ep)
	}

	for _, dir := range dirs {
		eps := byDir[dir]
		name := m.settings.PlaylistFileName
		if eps[0].Podcast != "" {
			name = eps[0].Podcast
		}
		content := m.playlist.CreatePlaylist(name, eps)
		path := m.playlist.Path(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			m.notice(LevelWarning, "Error creating playlist: %v", err)
			continue
		}
		m.notice(LevelSuccess, "Created playlist %s", path)
	}
}

func (m *Manager) setTask(key string, t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		delete(m.tasks, key)
		return
	}
	m.tasks[key] = t
}

// RunningTask returns the task currently transferring key, if any.
func (m *Manager) RunningTask(key string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	return t, ok
}

func (m *Manager) waitForRetry(ctx context.Context, tries int) {
	cooldown := m.settings.DownloadRetryCooldown * math.Pow(m.settings.DownloadRetryExponent, float64(tries))
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(cooldown * float64(time.Second))):
	}
}

func (m *Manager) notice(level NoticeLevel, format string, args ...any) {
	if m.onNotice != nil {
		m.onNotice(Notice{Message: fmt.Sprintf(format, args...), Level: level})
	}
}

func isMP3(ep *model.Episode) bool {
	return ep.MimeType() == "audio/mpeg" || strings.EqualFold(filepath.Ext(ep.LocalPath()), ".mp3")
}
