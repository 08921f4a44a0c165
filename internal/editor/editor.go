package editor

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/geometry"
)

const (
	// MinDrawSize is the smallest width and height, in image pixels, a drawn
	// region must reach to be kept.
	MinDrawSize = 3.0

	// HandleRadius is the grab distance of a resize handle in display pixels.
	HandleRadius = 8.0

	// ProvisionalID is the id carried by the in-progress draw region.
	ProvisionalID = "tmp"

	// DefaultClassName names regions whose class is not in the class map.
	DefaultClassName = "class"
)

var (
	ErrNoSelection  = errors.New("no region selected")
	ErrUnknownClass = errors.New("unknown class")
	ErrInvalidScale = errors.New("display scale must be positive")
)

// Recounter recomputes an image's count summary.
type Recounter func(*annotation.ImageItem)

// Option configures an Editor.
type Option func(*Editor)

// WithIDGenerator sets the function that names newly drawn regions.
func WithIDGenerator(fn func() string) Option {
	return func(e *Editor) { e.newID = fn }
}

// WithScale sets the initial display scale.
func WithScale(s float64) Option {
	return func(e *Editor) {
		if s > 0 {
			e.scale = s
		}
	}
}

type dragKind int

const (
	dragMove dragKind = iota
	dragResize
)

type drag struct {
	kind   dragKind
	handle Handle
	id     string
	start  geometry.Point
	orig   geometry.Rect
}

type draft struct {
	anchor geometry.Point
	region annotation.Region
}

// Editor is the editing state machine for one image.
type Editor struct {
	item        *annotation.ImageItem
	classes     annotation.ClassMap
	recount     Recounter
	newID       func() string
	mode        Mode
	activeClass int
	selected    string
	scale       float64
	draft       *draft
	drag        *drag
}

// New creates an editor for item in select mode. The active class starts as
// the first class of the class map, or 0 for an empty map.
func New(item *annotation.ImageItem, classes annotation.ClassMap, recount Recounter, opts ...Option) *Editor {
	e := &Editor{
		item:    item,
		classes: classes,
		recount: recount,
		newID:   uuid.NewString,
		mode:    ModeSelect,
		scale:   1,
	}
	if id, ok := classes.Nth(0); ok {
		e.activeClass = id
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Item returns the image being edited.
func (e *Editor) Item() *annotation.ImageItem { return e.item }

// Mode returns the current mode.
func (e *Editor) Mode() Mode { return e.mode }

// ActiveClass returns the class used for newly drawn regions.
func (e *Editor) ActiveClass() int { return e.activeClass }

// Scale returns the display scale.
func (e *Editor) Scale() float64 { return e.scale }

// Selected returns the selected region id, or "" when nothing is selected.
func (e *Editor) Selected() string {
	if e.selectedRegion() == nil {
		return ""
	}
	return e.selected
}

// Provisional returns a copy of the in-progress draw region, or nil.
func (e *Editor) Provisional() *annotation.Region {
	if e.draft == nil {
		return nil
	}
	r := e.draft.region
	return &r
}

// SetClasses replaces the class map used for names and number keys.
func (e *Editor) SetClasses(classes annotation.ClassMap) {
	e.classes = classes
}

// SetMode switches mode. Any in-progress draw or drag is dropped. It reports
// whether the mode changed.
func (e *Editor) SetMode(m Mode) bool {
	if m == e.mode {
		return false
	}
	e.draft = nil
	e.drag = nil
	e.mode = m
	return true
}

// SetActiveClass sets the class used for newly drawn regions.
func (e *Editor) SetActiveClass(id int) error {
	if _, ok := e.classes.Lookup(id); !ok && len(e.classes) > 0 {
		return fmt.Errorf("%w: %d", ErrUnknownClass, id)
	}
	e.activeClass = id
	return nil
}

// SetScale sets the display scale used to map pointer positions to image
// pixels.
func (e *Editor) SetScale(s float64) error {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return ErrInvalidScale
	}
	e.scale = s
	return nil
}

// FitScale sets the scale that fits the image into maxWidth display pixels
// without enlarging it, and returns it.
func (e *Editor) FitScale(maxWidth float64) float64 {
	s := 1.0
	if e.item.Width > 0 && maxWidth > 0 {
		s = math.Min(1, maxWidth/float64(e.item.Width))
	}
	e.scale = s
	return s
}

// Key handles a key press and reports whether anything changed.
func (e *Editor) Key(key string) bool {
	switch key {
	case "Escape", "Esc":
		return e.SetMode(ModeSelect)
	case "r", "R":
		return e.SetMode(ModeDraw)
	case "d", "D":
		return e.SetMode(ModeErase)
	case "Delete", "Backspace":
		if e.mode != ModeSelect || e.Selected() == "" {
			return false
		}
		return e.Delete(e.selected)
	}

	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		id, ok := e.classes.Nth(int(key[0] - '1'))
		if !ok {
			return false
		}
		changed := id != e.activeClass
		e.activeClass = id
		return changed
	}
	return false
}

// PointerDown handles a pointer press at p in display space.
func (e *Editor) PointerDown(p geometry.Point) bool {
	ip := e.toImage(p)

	switch e.mode {
	case ModeDraw:
		e.beginDraw(ip)
		return true

	case ModeErase:
		id := e.hitTest(ip)
		if id == "" {
			return false
		}
		return e.Delete(id)

	default:
		if sel := e.selectedRegion(); sel != nil {
			if h := e.handleAt(sel.Rect(), p); h != HandleNone {
				e.drag = &drag{kind: dragResize, handle: h, id: sel.ID, start: ip, orig: sel.Rect()}
				return true
			}
			if geometry.Contains(sel.Rect(), ip.X, ip.Y) {
				e.drag = &drag{kind: dragMove, id: sel.ID, start: ip, orig: sel.Rect()}
				return true
			}
		}

		id := e.hitTest(ip)
		if id == "" {
			changed := e.selected != ""
			e.selected = ""
			return changed
		}
		e.selected = id
		return true
	}
}

// PointerMove handles pointer motion to p in display space while the button
// is held.
func (e *Editor) PointerMove(p geometry.Point) bool {
	ip := e.toImage(p)

	switch {
	case e.mode == ModeDraw && e.draft != nil:
		e.draft.region.SetRect(geometry.Span(e.draft.anchor, ip))
		return true

	case e.mode == ModeSelect && e.drag != nil:
		return e.applyDrag(ip)
	}
	return false
}

// PointerUp handles the pointer release at p in display space.
func (e *Editor) PointerUp(p geometry.Point) bool {
	switch {
	case e.mode == ModeDraw && e.draft != nil:
		e.PointerMove(p)
		return e.endDraw()

	case e.mode == ModeSelect && e.drag != nil:
		changed := e.applyDrag(e.toImage(p))
		e.drag = nil
		return changed
	}
	return false
}

// Reclassify changes the selected region's class id and name together.
func (e *Editor) Reclassify(classID int) error {
	r := e.selectedRegion()
	if r == nil {
		return ErrNoSelection
	}
	name, ok := e.classes.Lookup(classID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClass, classID)
	}
	r.SetClass(classID, name)
	e.commit()
	return nil
}

// Delete removes the region with the given id, clearing the selection if it
// was the selected region. It reports whether a region was removed.
func (e *Editor) Delete(id string) bool {
	if !e.item.Remove(id) {
		return false
	}
	if e.selected == id {
		e.selected = ""
	}
	if e.drag != nil && e.drag.id == id {
		e.drag = nil
	}
	e.commit()
	return true
}

// Select selects the region with the given id. An empty id clears the
// selection.
func (e *Editor) Select(id string) error {
	if id != "" && e.item.Region(id) == nil {
		return fmt.Errorf("region not found: %s", id)
	}
	e.selected = id
	return nil
}

func (e *Editor) beginDraw(ip geometry.Point) {
	e.draft = &draft{
		anchor: ip,
		region: annotation.Region{
			ID:        ProvisionalID,
			X:         ip.X,
			Y:         ip.Y,
			W:         1,
			H:         1,
			ClassID:   e.activeClass,
			ClassName: e.classes.Name(e.activeClass, DefaultClassName),
		},
	}
}

func (e *Editor) endDraw() bool {
	d := e.draft
	e.draft = nil
	if d.region.W < MinDrawSize || d.region.H < MinDrawSize {
		return true
	}

	r := d.region
	r.ID = e.newID()
	w, h := e.item.Frame()
	r.SetRect(geometry.Clamp(r.Rect(), w, h))
	e.item.Regions = append(e.item.Regions, r)
	e.commit()
	return true
}

func (e *Editor) applyDrag(ip geometry.Point) bool {
	d := e.drag
	r := e.item.Region(d.id)
	if r == nil {
		e.drag = nil
		return false
	}

	dx, dy := ip.X-d.start.X, ip.Y-d.start.Y
	w, h := e.item.Frame()
	var next geometry.Rect
	if d.kind == dragMove {
		next = d.orig.Translate(dx, dy)
	} else {
		next = resize(d.orig, d.handle, dx, dy, w, h)
	}
	next = geometry.Clamp(next, w, h)

	if next == r.Rect() {
		return false
	}
	r.SetRect(next)
	e.commit()
	return true
}

// resize moves the grabbed corner by (dx, dy) keeping the opposite corner
// fixed. The moving edges stop at the frame and one pixel short of the fixed
// ones.
func resize(orig geometry.Rect, h Handle, dx, dy, frameW, frameH float64) geometry.Rect {
	b := orig.Bounds()
	left := func() { b.X1 = math.Max(0, math.Min(b.X1+dx, b.X2-1)) }
	right := func() { b.X2 = math.Min(frameW, math.Max(b.X2+dx, b.X1+1)) }
	top := func() { b.Y1 = math.Max(0, math.Min(b.Y1+dy, b.Y2-1)) }
	bottom := func() { b.Y2 = math.Min(frameH, math.Max(b.Y2+dy, b.Y1+1)) }

	switch h {
	case HandleTopLeft:
		left()
		top()
	case HandleTopRight:
		right()
		top()
	case HandleBottomLeft:
		left()
		bottom()
	case HandleBottomRight:
		right()
		bottom()
	}
	return b.Rect()
}

// handleAt returns the corner handle of r under the display point p.
func (e *Editor) handleAt(r geometry.Rect, p geometry.Point) Handle {
	b := r.Bounds()
	corners := []struct {
		h    Handle
		x, y float64
	}{
		{HandleTopLeft, b.X1, b.Y1},
		{HandleTopRight, b.X2, b.Y1},
		{HandleBottomLeft, b.X1, b.Y2},
		{HandleBottomRight, b.X2, b.Y2},
	}
	for _, c := range corners {
		if math.Abs(c.x*e.scale-p.X) <= HandleRadius && math.Abs(c.y*e.scale-p.Y) <= HandleRadius {
			return c.h
		}
	}
	return HandleNone
}

// hitTest returns the topmost region containing ip. Later regions are drawn
// on top of earlier ones.
func (e *Editor) hitTest(ip geometry.Point) string {
	for i := len(e.item.Regions) - 1; i >= 0; i-- {
		r := &e.item.Regions[i]
		if geometry.Contains(r.Rect(), ip.X, ip.Y) {
			return r.ID
		}
	}
	return ""
}

func (e *Editor) selectedRegion() *annotation.Region {
	if e.selected == "" {
		return nil
	}
	return e.item.Region(e.selected)
}

func (e *Editor) toImage(p geometry.Point) geometry.Point {
	return geometry.Point{X: p.X / e.scale, Y: p.Y / e.scale}
}

func (e *Editor) commit() {
	if e.recount != nil {
		e.recount(e.item)
	}
}

// State is a read-only view of the editor for display.
type State struct {
	Mode            string             `json:"mode"`
	ActiveClass     int                `json:"active_class"`
	ActiveClassName string             `json:"active_class_name"`
	Selected        string             `json:"selected,omitempty"`
	Scale           float64            `json:"scale"`
	Dragging        bool               `json:"dragging"`
	Provisional     *annotation.Region `json:"provisional,omitempty"`
	Counts          annotation.Summary `json:"counts"`
}

// Snapshot returns the current editor state.
func (e *Editor) Snapshot() State {
	return State{
		Mode:            e.mode.String(),
		ActiveClass:     e.activeClass,
		ActiveClassName: e.classes.Name(e.activeClass, DefaultClassName),
		Selected:        e.Selected(),
		Scale:           e.scale,
		Dragging:        e.drag != nil,
		Provisional:     e.Provisional(),
		Counts:          e.item.Counts,
	}
}
