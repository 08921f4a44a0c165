package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/detect"
	"github.com/ironsheep/gel-annotator-mcp/internal/editor"
	"github.com/ironsheep/gel-annotator-mcp/internal/export"
	"github.com/ironsheep/gel-annotator-mcp/internal/geometry"
	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
	"github.com/ironsheep/gel-annotator-mcp/internal/rules"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "annotator_detect").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Debug("tool failed", zap.String("tool", params.Name), zap.Error(err))
		return s.errorResponse(req.ID, codeToolFailed, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Session
	case "annotator_detect":
		return s.handleDetect(ctx, args)
	case "annotator_import_images":
		return s.handleImportImages(ctx, args)
	case "annotator_list_images":
		return s.handleListImages(args)
	case "annotator_set_active":
		return s.handleSetActive(args)

	// Rules and counts
	case "annotator_get_rules":
		return s.store.Rules(), nil
	case "annotator_set_rules":
		return s.handleSetRules(args)
	case "annotator_counts":
		return s.handleCounts(args)
	case "annotator_regions":
		return s.handleRegions(args)

	// Editing
	case "annotator_editor_state":
		return s.handleEditorState(args)
	case "annotator_key":
		return s.handleKey(args)
	case "annotator_pointer":
		return s.handlePointer(args)
	case "annotator_set_mode":
		return s.handleSetMode(args)
	case "annotator_set_active_class":
		return s.handleSetActiveClass(args)
	case "annotator_reclassify":
		return s.handleReclassify(args)
	case "annotator_delete_region":
		return s.handleDeleteRegion(args)
	case "annotator_set_scale":
		return s.handleSetScale(args)

	// Output
	case "annotator_export_yolo":
		return s.handleExportYOLO(args)
	case "annotator_export_report":
		return s.handleExportReport(args)
	case "annotator_render_overlay":
		return s.handleRenderOverlay(args)
	case "annotator_crop_region":
		return s.handleCropRegion(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// indexArgs is embedded by every per-image tool.
type indexArgs struct {
	Index *int `json:"index,omitempty"`
}

// edit resolves the image index and runs fn with its editor. It returns the
// resolved index and the editor state after fn.
func (s *Server) edit(index *int, fn func(*editor.Editor) error) (int, editor.State, error) {
	i, err := s.store.Resolve(index)
	if err != nil {
		return 0, editor.State{}, err
	}
	var state editor.State
	err = s.store.Edit(i, func(ed *editor.Editor) error {
		if fn != nil {
			if err := fn(ed); err != nil {
				return err
			}
		}
		state = ed.Snapshot()
		return nil
	})
	return i, state, err
}

type editResult struct {
	Index   int          `json:"index"`
	Changed bool         `json:"changed"`
	State   editor.State `json:"state"`
}

// === Session Handlers ===

type detectArgs struct {
	Paths      []string `json:"paths"`
	Confidence *float64 `json:"conf,omitempty"`
	IoU        *float64 `json:"iou,omitempty"`
}

type importResult struct {
	Detector string      `json:"detector"`
	Added    []imageView `json:"added"`
	Active   int         `json:"active"`
	Total    int         `json:"total"`
}

func (s *Server) handleDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a detectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if len(a.Paths) == 0 {
		return nil, detect.ErrNoImages
	}
	req := s.cfg.DetectRequest(a.Paths...)
	if a.Confidence != nil {
		req.Confidence = *a.Confidence
	}
	if a.IoU != nil {
		req.IoU = *a.IoU
	}
	return s.runImport(ctx, s.detector, req.Normalized())
}

func (s *Server) runImport(ctx context.Context, d detect.Detector, req detect.Request) (*importResult, error) {
	before := s.store.Len()
	added, err := s.store.Detect(ctx, d, req)
	if err != nil {
		return nil, err
	}
	return s.importResult(d.Name(), before, added), nil
}

func (s *Server) importResult(detector string, before int, added []*annotation.ImageItem) *importResult {
	res := &importResult{
		Detector: detector,
		Added:    make([]imageView, 0, len(added)),
		Active:   s.store.ActiveIndex(),
		Total:    s.store.Len(),
	}
	for k, it := range added {
		res.Added = append(res.Added, newImageView(before+k, it))
	}
	return res
}

type importArgs struct {
	Paths     []string          `json:"paths,omitempty"`
	Batch     *annotation.Batch `json:"batch,omitempty"`
	BatchPath string            `json:"batch_path,omitempty"`
}

func (s *Server) handleImportImages(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a importArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	switch {
	case a.Batch != nil:
		return s.importBatch("batch", a.Batch), nil

	case a.BatchPath != "":
		data, err := os.ReadFile(a.BatchPath)
		if err != nil {
			return nil, fmt.Errorf("read batch: %w", err)
		}
		var batch annotation.Batch
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parse batch %s: %w", a.BatchPath, err)
		}
		return s.importBatch("batch", &batch), nil

	case len(a.Paths) > 0:
		return s.runImport(ctx, s.local, detect.NewRequest(a.Paths...))
	}
	return nil, errors.New("one of paths, batch or batch_path is required")
}

func (s *Server) importBatch(source string, batch *annotation.Batch) *importResult {
	before := s.store.Len()
	added := s.store.Import(batch)
	s.log.Info("batch imported", zap.Int("images", len(added)))
	return s.importResult(source, before, added)
}

type imageView struct {
	Index    int                `json:"index"`
	ID       string             `json:"id"`
	Filename string             `json:"filename"`
	Path     string             `json:"path,omitempty"`
	Width    int                `json:"width"`
	Height   int                `json:"height"`
	Regions  int                `json:"regions"`
	Counts   annotation.Summary `json:"counts"`
}

func newImageView(i int, it *annotation.ImageItem) imageView {
	return imageView{
		Index:    i,
		ID:       it.ID,
		Filename: it.Filename,
		Path:     it.Path,
		Width:    it.Width,
		Height:   it.Height,
		Regions:  len(it.Regions),
		Counts:   it.Counts,
	}
}

func (s *Server) handleListImages(args json.RawMessage) (interface{}, error) {
	images := s.store.Images()
	views := make([]imageView, 0, len(images))
	for i, it := range images {
		views = append(views, newImageView(i, it))
	}
	return map[string]interface{}{
		"images":   views,
		"active":   s.store.ActiveIndex(),
		"totals":   s.store.Totals(),
		"classes":  s.store.ClassMap(),
		"rules":    s.store.Rules(),
		"detector": s.detector.Name(),
		"busy":     s.store.Busy(),
	}, nil
}

type setActiveArgs struct {
	Index int `json:"index"`
}

func (s *Server) handleSetActive(args json.RawMessage) (interface{}, error) {
	var a setActiveArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := s.store.SetActive(a.Index); err != nil {
		return nil, err
	}
	it, err := s.store.Image(a.Index)
	if err != nil {
		return nil, err
	}
	return newImageView(a.Index, it), nil
}

// === Rule Handlers ===

type setRulesArgs struct {
	OverlapIoU         *float64 `json:"overlap_iou,omitempty"`
	EdgeOutsidePercent *float64 `json:"edge_outside_percent,omitempty"`
}

func (s *Server) handleSetRules(args json.RawMessage) (interface{}, error) {
	var a setRulesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	cfg := s.store.Rules()
	if a.OverlapIoU != nil {
		cfg.OverlapIoU = *a.OverlapIoU
	}
	if a.EdgeOutsidePercent != nil {
		cfg.EdgeOutsidePercent = *a.EdgeOutsidePercent
	}
	applied := s.store.SetRules(cfg)
	return map[string]interface{}{
		"rules":  applied,
		"totals": s.store.Totals(),
	}, nil
}

type countsResult struct {
	Index   int               `json:"index"`
	Rules   rules.Config      `json:"rules"`
	Result  rules.Result      `json:"result"`
	Reasons map[string]string `json:"excluded_reasons"`
}

func (s *Server) handleCounts(args json.RawMessage) (interface{}, error) {
	var a indexArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	i, err := s.store.Resolve(a.Index)
	if err != nil {
		return nil, err
	}
	res, err := s.store.Evaluate(i)
	if err != nil {
		return nil, err
	}
	reasons := make(map[string]string)
	for id := range res.EdgeExcluded {
		reasons[id] = res.Reason(id)
	}
	for id := range res.OverlapExcluded {
		reasons[id] = res.Reason(id)
	}
	return &countsResult{Index: i, Rules: s.store.Rules(), Result: res, Reasons: reasons}, nil
}

type regionView struct {
	annotation.Region
	Excluded string `json:"excluded,omitempty"`
}

func (s *Server) handleRegions(args json.RawMessage) (interface{}, error) {
	var a indexArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	i, err := s.store.Resolve(a.Index)
	if err != nil {
		return nil, err
	}
	res, err := s.store.Evaluate(i)
	if err != nil {
		return nil, err
	}
	it, err := s.store.Image(i)
	if err != nil {
		return nil, err
	}
	views := make([]regionView, 0, len(it.Regions))
	for _, r := range it.Regions {
		views = append(views, regionView{Region: r, Excluded: res.Reason(r.ID)})
	}
	return map[string]interface{}{
		"index":    i,
		"filename": it.Filename,
		"width":    it.Width,
		"height":   it.Height,
		"regions":  views,
		"counts":   it.Counts,
	}, nil
}

// === Editor Handlers ===

func (s *Server) handleEditorState(args json.RawMessage) (interface{}, error) {
	var a indexArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	i, state, err := s.edit(a.Index, nil)
	if err != nil {
		return nil, err
	}
	return &editResult{Index: i, State: state}, nil
}

type keyArgs struct {
	indexArgs
	Key string `json:"key"`
}

func (s *Server) handleKey(args json.RawMessage) (interface{}, error) {
	var a keyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Key == "" {
		return nil, errors.New("key is required")
	}
	var changed bool
	i, state, err := s.edit(a.Index, func(ed *editor.Editor) error {
		changed = ed.Key(a.Key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &editResult{Index: i, Changed: changed, State: state}, nil
}

type pointerArgs struct {
	indexArgs
	Action string   `json:"action"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	ToX    *float64 `json:"to_x,omitempty"`
	ToY    *float64 `json:"to_y,omitempty"`
}

func (s *Server) handlePointer(args json.RawMessage) (interface{}, error) {
	var a pointerArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	p := geometry.Point{X: a.X, Y: a.Y}

	var apply func(ed *editor.Editor) bool
	switch a.Action {
	case "down":
		apply = func(ed *editor.Editor) bool { return ed.PointerDown(p) }
	case "move":
		apply = func(ed *editor.Editor) bool { return ed.PointerMove(p) }
	case "up":
		apply = func(ed *editor.Editor) bool { return ed.PointerUp(p) }
	case "click":
		apply = func(ed *editor.Editor) bool {
			down := ed.PointerDown(p)
			up := ed.PointerUp(p)
			return down || up
		}
	case "drag":
		if a.ToX == nil || a.ToY == nil {
			return nil, errors.New("drag requires to_x and to_y")
		}
		to := geometry.Point{X: *a.ToX, Y: *a.ToY}
		apply = func(ed *editor.Editor) bool {
			down := ed.PointerDown(p)
			move := ed.PointerMove(to)
			up := ed.PointerUp(to)
			return down || move || up
		}
	default:
		return nil, fmt.Errorf("unknown pointer action: %q", a.Action)
	}

	var changed bool
	i, state, err := s.edit(a.Index, func(ed *editor.Editor) error {
		changed = apply(ed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &editResult{Index: i, Changed: changed, State: state}, nil
}

type setModeArgs struct {
	indexArgs
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(args json.RawMessage) (interface{}, error) {
	var a setModeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	m, err := editor.ParseMode(a.Mode)
	if err != nil {
		return nil, err
	}
	var changed bool
	i, state, err := s.edit(a.Index, func(ed *editor.Editor) error {
		changed = ed.SetMode(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &editResult{Index: i, Changed: changed, State: state}, nil
}

type classArgs struct {
	indexArgs
	ClassID  *int   `json:"class_id"`
	RegionID string `json:"region_id,omitempty"`
}

func (a classArgs) classID() (int, error) {
	if a.ClassID == nil {
		return 0, errors.New("class_id is required")
	}
	return *a.ClassID, nil
}

func (s *Server) handleSetActiveClass(args json.RawMessage) (interface{}, error) {
	var a classArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	id, err := a.classID()
	if err != nil {
		return nil, err
	}
	i, state, err := s.edit(a.Index, func(ed *editor.Editor) error {
		return ed.SetActiveClass(id)
	})
	if err != nil {
		return nil, err
	}
	return &editResult{Index: i, Changed: true, State: state}, nil
}

func (s *Server) handleReclassify(args json.RawMessage) (interface{}, error) {
	var a classArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	id, err := a.classID()
	if err != nil {
		return nil, err
	}
	i, state, err := s.edit(a.Index, func(ed *editor.Editor) error {
		if a.RegionID != "" {
			if err := ed.Select(a.RegionID); err != nil {
				return err
			}
		}
		return ed.Reclassify(id)
	})
	if err != nil {
		return nil, err
	}
	return &editResult{Index: i, Changed: true, State: state}, nil
}

type regionArgs struct {
	indexArgs
	RegionID string `json:"region_id"`
}

func (s *Server) handleDeleteRegion(args json.RawMessage) (interface{}, error) {
	var a regionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	i, state, err := s.edit(a.Index, func(ed *editor.Editor) error {
		if !ed.Delete(a.RegionID) {
			return fmt.Errorf("region not found: %s", a.RegionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &editResult{Index: i, Changed: true, State: state}, nil
}

type setScaleArgs struct {
	indexArgs
	Scale    *float64 `json:"scale,omitempty"`
	FitWidth float64  `json:"fit_width,omitempty"`
}

func (s *Server) handleSetScale(args json.RawMessage) (interface{}, error) {
	var a setScaleArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	i, state, err := s.edit(a.Index, func(ed *editor.Editor) error {
		if a.Scale != nil {
			return ed.SetScale(*a.Scale)
		}
		w := a.FitWidth
		if w <= 0 {
			w = s.cfg.Display.MaxWidth
		}
		ed.FitScale(w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &editResult{Index: i, Changed: true, State: state}, nil
}

// === Output Handlers ===

type exportYOLOArgs struct {
	indexArgs
	All        bool   `json:"all,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
}

func (s *Server) handleExportYOLO(args json.RawMessage) (interface{}, error) {
	var a exportYOLOArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	if !a.All {
		i, err := s.store.Resolve(a.Index)
		if err != nil {
			return nil, err
		}
		lf, err := s.store.LabelSet(i)
		if err != nil {
			return nil, err
		}
		out := map[string]interface{}{"index": i, "name": lf.Name}
		if a.OutputPath != "" {
			if err := os.WriteFile(a.OutputPath, []byte(lf.Text), 0o644); err != nil {
				return nil, fmt.Errorf("write labels: %w", err)
			}
			out["output_path"] = a.OutputPath
		} else {
			out["text"] = lf.Text
		}
		return out, nil
	}

	if s.store.Len() == 0 {
		return nil, errors.New("no images to export")
	}
	var buf bytes.Buffer
	if err := export.WriteYOLOZip(&buf, s.store.Images(), s.store.ClassMap()); err != nil {
		return nil, err
	}
	out := map[string]interface{}{"images": s.store.Len(), "size": buf.Len()}
	if a.OutputPath != "" {
		if err := os.WriteFile(a.OutputPath, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("write zip: %w", err)
		}
		out["output_path"] = a.OutputPath
	} else {
		out["zip_base64"] = base64.StdEncoding.EncodeToString(buf.Bytes())
		out["mime_type"] = "application/zip"
	}
	return out, nil
}

type exportReportArgs struct {
	OutputPath string `json:"output_path,omitempty"`
}

func (s *Server) handleExportReport(args json.RawMessage) (interface{}, error) {
	var a exportReportArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := export.WriteReport(&buf, s.store.Images(), s.store.Rules()); err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"rows":   s.store.Report(),
		"totals": s.store.Totals(),
	}
	if a.OutputPath != "" {
		if err := os.WriteFile(a.OutputPath, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
		out["output_path"] = a.OutputPath
	} else {
		out["csv"] = buf.String()
	}
	return out, nil
}

type overlayArgs struct {
	indexArgs
	Scale      *float64 `json:"scale,omitempty"`
	ShowCounts bool     `json:"show_counts,omitempty"`
}

func (s *Server) handleRenderOverlay(args json.RawMessage) (interface{}, error) {
	var a overlayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	i, state, err := s.edit(a.Index, nil)
	if err != nil {
		return nil, err
	}
	it, err := s.store.Image(i)
	if err != nil {
		return nil, err
	}
	if it.Path == "" {
		return nil, fmt.Errorf("image %d (%s) has no local path", i, it.Filename)
	}
	img, err := s.cache.Load(it.Path)
	if err != nil {
		return nil, err
	}
	res, err := s.store.Evaluate(i)
	if err != nil {
		return nil, err
	}

	scale := state.Scale
	if a.Scale != nil {
		scale = *a.Scale
	}
	return imaging.RenderOverlay(img, it, res, imaging.OverlayOptions{
		Scale:       scale,
		Classes:     s.store.ClassMap(),
		Selected:    state.Selected,
		Provisional: state.Provisional,
		ShowCounts:  a.ShowCounts,
	})
}

type cropRegionArgs struct {
	regionArgs
	Pad   int     `json:"pad,omitempty"`
	Scale float64 `json:"scale,omitempty"`
}

func (s *Server) handleCropRegion(args json.RawMessage) (interface{}, error) {
	var a cropRegionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	i, err := s.store.Resolve(a.Index)
	if err != nil {
		return nil, err
	}
	it, err := s.store.Image(i)
	if err != nil {
		return nil, err
	}
	r := it.Region(a.RegionID)
	if r == nil {
		return nil, fmt.Errorf("region not found: %s", a.RegionID)
	}
	if it.Path == "" {
		return nil, fmt.Errorf("image %d (%s) has no local path", i, it.Filename)
	}
	img, err := s.cache.Load(it.Path)
	if err != nil {
		return nil, err
	}
	return imaging.CropRegion(img, r.Rect(), a.Pad, a.Scale)
}
