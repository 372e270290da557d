package gallery

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"fastsd/session"
)

// indexCapacity bounds the name to path index used to serve images.
const indexCapacity = 1000

// SavedImage is one persisted image of a result.
type SavedImage struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Recorder stores a finished result in the generation history.
type Recorder interface {
	RecordGeneration(ctx context.Context, r session.Result, paths []string) error
}

// Option configures an Archive.
type Option func(*Archive)

// WithMirror adds a saver that receives a copy of every image. Mirror
// failures are logged and do not fail the result.
func WithMirror(s Saver) Option {
	return func(a *Archive) { a.mirrors = append(a.mirrors, s) }
}

// WithRecorder sets the history recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Archive) { a.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Archive) { a.logger = l }
}

// WithURLPrefix sets the path images are served under. Default: /images/.
func WithURLPrefix(p string) Option {
	return func(a *Archive) { a.urlPrefix = p }
}

// Archive writes result images and remembers where they went.
type Archive struct {
	primary   Saver
	mirrors   []Saver
	recorder  Recorder
	logger    *zap.Logger
	urlPrefix string

	mu    sync.RWMutex
	index map[string]string
	order []string
}

// NewArchive returns an archive that writes through primary.
func NewArchive(primary Saver, opts ...Option) *Archive {
	a := &Archive{
		primary:   primary,
		logger:    zap.NewNop(),
		urlPrefix: "/images/",
		index:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Store saves every image of r into r.Settings.OutputDirectory and records
// the result. Failed results are recorded with no images.
func (a *Archive) Store(ctx context.Context, r session.Result) ([]SavedImage, error) {
	saved := make([]SavedImage, 0, len(r.Images))

	for i, data := range r.Images {
		id := uuid.New().String()
		params := SaveParams{
			Dir:         r.Settings.OutputDirectory,
			Name:        id + ".png",
			Data:        data,
			ContentType: "image/png",
			Metadata:    metadata(r, i),
		}

		path, err := a.primary.Save(ctx, params)
		if err != nil {
			a.record(ctx, r, paths(saved))
			return saved, err
		}
		a.remember(params.Name, path)
		saved = append(saved, SavedImage{ID: id, Path: path, URL: a.urlPrefix + params.Name})

		for _, m := range a.mirrors {
			if _, err := m.Save(ctx, params); err != nil {
				a.logger.Warn("Mirror upload failed",
					zap.String("request_id", r.RequestID),
					zap.String("image", params.Name),
					zap.Error(err))
			}
		}
	}

	if len(saved) > 0 {
		a.logger.Info("Images saved",
			zap.String("request_id", r.RequestID),
			zap.Strings("paths", paths(saved)))
	}
	a.record(ctx, r, paths(saved))
	return saved, nil
}

// Lookup returns the file path of an image saved by this archive.
func (a *Archive) Lookup(name string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.index[name]
	return p, ok
}

func (a *Archive) record(ctx context.Context, r session.Result, p []string) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.RecordGeneration(ctx, r, p); err != nil {
		a.logger.Warn("Failed to record generation",
			zap.String("request_id", r.RequestID),
			zap.Error(err))
	}
}

func (a *Archive) remember(name, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.order) >= indexCapacity {
		delete(a.index, a.order[0])
		a.order = a.order[1:]
	}
	a.index[name] = path
	a.order = append(a.order, name)
}

func paths(saved []SavedImage) []string {
	return lo.Map(saved, func(s SavedImage, _ int) string { return s.Path })
}

func metadata(r session.Result, index int) map[string]string {
	s := r.Settings
	return map[string]string{
		"request_id": r.RequestID,
		"prompt":     s.Prompt,
		"model":      s.ModelID,
		"backend":    s.BackendMode.String(),
		"seed":       strconv.FormatInt(r.Seed, 10),
		"size":       fmt.Sprintf("%dx%d", s.ImageWidth, s.ImageHeight),
		"index":      strconv.Itoa(index),
	}
}
