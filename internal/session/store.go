package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/detect"
	"github.com/ironsheep/gel-annotator-mcp/internal/editor"
	"github.com/ironsheep/gel-annotator-mcp/internal/export"
	"github.com/ironsheep/gel-annotator-mcp/internal/geometry"
	"github.com/ironsheep/gel-annotator-mcp/internal/rules"
)

var (
	// ErrBusy is returned when a detection call is already running.
	ErrBusy = errors.New("detection already in progress")

	// ErrIndexOutOfRange is returned for an image index outside the session.
	ErrIndexOutOfRange = errors.New("image index out of range")

	// ErrEmpty is returned when the session has no images.
	ErrEmpty = errors.New("no images in session")
)

// Store is the image session.
type Store struct {
	mu      sync.Mutex
	log     *zap.Logger
	images  []*annotation.ImageItem
	active  int
	classes annotation.ClassMap
	cfg     rules.Config
	editors map[*annotation.ImageItem]*editor.Editor
	edOpts  []editor.Option
	fitW    float64
	newID   func() string
	busy    atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithRules sets the initial rule configuration.
func WithRules(cfg rules.Config) Option {
	return func(s *Store) { s.cfg = cfg.Clamped() }
}

// WithClasses sets the initial class map.
func WithClasses(m annotation.ClassMap) Option {
	return func(s *Store) { s.classes.Merge(m) }
}

// WithIDGenerator sets the generator for missing image and region ids and
// for regions drawn in editors.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithEditorOptions sets options passed to every editor the store creates.
func WithEditorOptions(opts ...editor.Option) Option {
	return func(s *Store) { s.edOpts = append(s.edOpts, opts...) }
}

// WithFitWidth makes new editors fit their image into maxWidth display
// pixels. 0 keeps full size.
func WithFitWidth(maxWidth float64) Option {
	return func(s *Store) { s.fitW = maxWidth }
}

// New creates an empty session with the default rules.
func New(log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		log:     log,
		active:  -1,
		classes: annotation.ClassMap{},
		cfg:     rules.Default(),
		editors: make(map[*annotation.ImageItem]*editor.Editor),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Import appends the batch's images to the session. A non-empty batch class
// map replaces the session's, after which every image already held has its
// class names resolved again and is recounted. Regions are normalized to a
// positive size, every new image is recounted, and the first new image
// becomes active. An empty batch changes nothing but the class map.
func (s *Store) Import(batch *annotation.Batch) []*annotation.ImageItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch == nil {
		return nil
	}
	if len(batch.ClassMap) > 0 {
		s.classes = make(annotation.ClassMap, len(batch.ClassMap))
		s.classes.Merge(batch.ClassMap)
		for _, ed := range s.editors {
			ed.SetClasses(s.classes)
		}
		for _, it := range s.images {
			annotation.ResolveClassNames(it, s.classes)
			rules.Recount(it, s.classes, s.cfg)
		}
	}

	added := make([]*annotation.ImageItem, 0, len(batch.Images))
	for i := range batch.Images {
		it := batch.Images[i]
		if it.ID == "" {
			it.ID = s.newID()
		}
		if it.Regions == nil {
			it.Regions = []annotation.Region{}
		}
		for j := range it.Regions {
			if it.Regions[j].ID == "" {
				it.Regions[j].ID = s.newID()
			}
			it.Regions[j].SetRect(geometry.Normalize(it.Regions[j].Rect()))
		}
		annotation.ResolveClassNames(&it, s.classes)
		rules.Recount(&it, s.classes, s.cfg)
		added = append(added, &it)
	}

	if len(added) > 0 {
		s.active = len(s.images)
		s.images = append(s.images, added...)
	}

	s.log.Info("imported images",
		zap.Int("added", len(added)),
		zap.Int("total", len(s.images)),
		zap.Int("classes", len(s.classes)))
	return added
}

// Rules returns the current rule configuration.
func (s *Store) Rules() rules.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetRules clamps cfg, stores it and recounts every image. It returns the
// configuration actually applied.
func (s *Store) SetRules(cfg rules.Config) rules.Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg.Clamped()
	for _, it := range s.images {
		rules.Recount(it, s.classes, s.cfg)
	}
	s.log.Info("rules changed",
		zap.Float64("overlap_iou", s.cfg.OverlapIoU),
		zap.Float64("edge_outside_percent", s.cfg.EdgeOutsidePercent),
		zap.Int("images", len(s.images)))
	return s.cfg
}

// ClassMap returns a copy of the session class map.
func (s *Store) ClassMap() annotation.ClassMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(annotation.ClassMap, len(s.classes))
	out.Merge(s.classes)
	return out
}

// Images returns the session's images in order.
func (s *Store) Images() []*annotation.ImageItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*annotation.ImageItem, len(s.images))
	copy(out, s.images)
	return out
}

// Len returns the number of images.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Image returns the image at index i.
func (s *Store) Image(i int) (*annotation.ImageItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageLocked(i)
}

func (s *Store) imageLocked(i int) (*annotation.ImageItem, error) {
	if len(s.images) == 0 {
		return nil, ErrEmpty
	}
	if i < 0 || i >= len(s.images) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i, len(s.images))
	}
	return s.images[i], nil
}

// ActiveIndex returns the index of the active image, or -1 when the session
// is empty.
func (s *Store) ActiveIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Active returns the active image, or nil when the session is empty.
func (s *Store) Active() *annotation.ImageItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active < 0 {
		return nil
	}
	return s.images[s.active]
}

// SetActive makes image i active.
func (s *Store) SetActive(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.imageLocked(i); err != nil {
		return err
	}
	s.active = i
	return nil
}

// Resolve maps an optional index to an image index: nil means the active
// image.
func (s *Store) Resolve(index *int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.active
	if index != nil {
		i = *index
	}
	if _, err := s.imageLocked(i); err != nil {
		return 0, err
	}
	return i, nil
}

// Editor returns the editor for image i, creating it on first use. Edits
// made through it recount the image with the session rules.
func (s *Store) Editor(i int) (*editor.Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editorLocked(i)
}

func (s *Store) editorLocked(i int) (*editor.Editor, error) {
	it, err := s.imageLocked(i)
	if err != nil {
		return nil, err
	}
	if ed, ok := s.editors[it]; ok {
		return ed, nil
	}

	opts := append([]editor.Option{editor.WithIDGenerator(s.newID)}, s.edOpts...)
	ed := editor.New(it, s.classes, s.recount, opts...)
	if s.fitW > 0 {
		ed.FitScale(s.fitW)
	}
	s.editors[it] = ed
	return ed, nil
}

// Edit runs fn with the editor for image i while holding the store lock.
func (s *Store) Edit(i int, fn func(*editor.Editor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ed, err := s.editorLocked(i)
	if err != nil {
		return err
	}
	return fn(ed)
}

// recount is the editors' Recounter. It runs with the store lock held when
// called through Edit.
func (s *Store) recount(it *annotation.ImageItem) {
	rules.Recount(it, s.classes, s.cfg)
}

// Evaluate returns the full rule evaluation of image i.
func (s *Store) Evaluate(i int) (rules.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.imageLocked(i)
	if err != nil {
		return rules.Result{}, err
	}
	return rules.EvaluateItem(it, s.classes, s.cfg), nil
}

// Totals sums the counts of every image.
func (s *Store) Totals() annotation.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum annotation.Summary
	for _, it := range s.images {
		sum.Microgel += it.Counts.Microgel
		sum.Cell += it.Counts.Cell
	}
	return sum
}

// BeginDetect marks the session busy. It reports false if it already was.
func (s *Store) BeginDetect() bool {
	return s.busy.CompareAndSwap(false, true)
}

// EndDetect clears the busy flag.
func (s *Store) EndDetect() {
	s.busy.Store(false)
}

// Busy reports whether a detection call is running.
func (s *Store) Busy() bool {
	return s.busy.Load()
}

// Detect runs d under the busy flag and imports its result. The store is
// not locked while the detector runs.
func (s *Store) Detect(ctx context.Context, d detect.Detector, req detect.Request) ([]*annotation.ImageItem, error) {
	if !s.BeginDetect() {
		return nil, ErrBusy
	}
	defer s.EndDetect()

	s.log.Info("detection started", zap.String("detector", d.Name()), zap.Int("images", len(req.Paths)))
	batch, err := d.Detect(ctx, req)
	if err != nil {
		s.log.Warn("detection failed", zap.String("detector", d.Name()), zap.Error(err))
		return nil, fmt.Errorf("%s detection: %w", d.Name(), err)
	}
	return s.Import(batch), nil
}

// LabelSet returns the YOLO label file for image i.
func (s *Store) LabelSet(i int) (export.LabelFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.imageLocked(i)
	if err != nil {
		return export.LabelFile{}, err
	}
	return export.Labels(it), nil
}

// Report returns the count report rows for every image.
func (s *Store) Report() []export.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return export.Rows(s.images, s.cfg)
}
