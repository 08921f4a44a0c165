package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/geometry"
	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
)

// DefaultOllamaModel is the vision model used when none is configured.
const DefaultOllamaModel = "qwen2.5vl"

const ollamaTimeout = 5 * time.Minute

// chatClient is the subset of the Ollama API client the detector needs.
type chatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// OllamaDetector asks a vision model for bounding boxes.
type OllamaDetector struct {
	client  chatClient
	model   string
	classes annotation.ClassMap
	cache   *imaging.ImageCache
	newID   func() string
	log     *zap.Logger
}

// OllamaOption configures an OllamaDetector.
type OllamaOption func(*OllamaDetector)

// WithClasses sets the class map the model is asked to detect.
func WithClasses(m annotation.ClassMap) OllamaOption {
	return func(d *OllamaDetector) {
		if len(m) > 0 {
			d.classes = m
		}
	}
}

// WithOllamaLogger sets the detector's logger.
func WithOllamaLogger(l *zap.Logger) OllamaOption {
	return func(d *OllamaDetector) { d.log = l }
}

// WithRegionIDs sets the generator for region and image ids.
func WithRegionIDs(fn func() string) OllamaOption {
	return func(d *OllamaDetector) { d.newID = fn }
}

func withChatClient(c chatClient) OllamaOption {
	return func(d *OllamaDetector) { d.client = c }
}

// NewOllamaDetector returns a detector that talks to the Ollama server at
// ollamaURL. Any path on the URL is ignored.
func NewOllamaDetector(ollamaURL, model string, cache *imaging.ImageCache, opts ...OllamaOption) (*OllamaDetector, error) {
	parsed, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ollama URL: %q", ollamaURL)
	}
	if model == "" {
		model = DefaultOllamaModel
	}

	d := &OllamaDetector{
		client: api.NewClient(&url.URL{Scheme: parsed.Scheme, Host: parsed.Host}, http.DefaultClient),
		model:  model,
		classes: annotation.ClassMap{
			annotation.DefaultContainerID: annotation.RoleContainer,
			annotation.DefaultContainedID: annotation.RoleContained,
		},
		cache: cache,
		newID: uuid.NewString,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name implements Detector.
func (d *OllamaDetector) Name() string { return "ollama" }

// Detect runs the vision model once per image.
func (d *OllamaDetector) Detect(ctx context.Context, req Request) (*annotation.Batch, error) {
	if len(req.Paths) == 0 {
		return nil, ErrNoImages
	}
	req = req.Normalized()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ollamaTimeout)
		defer cancel()
	}

	batch := &annotation.Batch{ClassMap: annotation.ClassMap{}, Images: make([]annotation.ImageItem, 0, len(req.Paths))}
	batch.ClassMap.Merge(d.classes)

	for _, p := range req.Paths {
		item, err := d.detectOne(ctx, p, req)
		if err != nil {
			return nil, err
		}
		batch.Images = append(batch.Images, *item)
	}
	return batch, nil
}

func (d *OllamaDetector) detectOne(ctx context.Context, path string, req Request) (*annotation.ImageItem, error) {
	dims, err := imaging.GetDimensions(d.cache, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	stream := false
	chat := &api.ChatRequest{
		Model: d.model,
		Messages: []api.Message{{
			Role:    "user",
			Content: d.prompt(),
			Images:  []api.ImageData{api.ImageData(data)},
		}},
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": 0,
		},
	}

	var content string
	err = d.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	objects, err := parseObjects(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	item := &annotation.ImageItem{
		ID:       d.newID(),
		Filename: filepath.Base(path),
		Path:     path,
		Width:    dims.Width,
		Height:   dims.Height,
		Regions:  []annotation.Region{},
	}
	item.Regions = d.toRegions(objects, float64(dims.Width), float64(dims.Height), req)

	d.log.Debug("ollama detections",
		zap.String("file", item.Filename),
		zap.Int("objects", len(objects)),
		zap.Int("kept", len(item.Regions)))
	return item, nil
}

func (d *OllamaDetector) prompt() string {
	names := make([]string, 0, len(d.classes))
	for _, id := range d.classes.IDs() {
		names = append(names, fmt.Sprintf("%q", d.classes[id]))
	}
	return fmt.Sprintf(`Detect every instance of these object classes in the image: %s.
Reply with JSON only, in this shape:
{"objects":[{"label":"<class>","confidence":0.0,"box":{"x":0.0,"y":0.0,"w":0.0,"h":0.0}}]}
x and y are the top-left corner, and every box value is normalized to [0,1] by the image width or height.
Return {"objects":[]} when nothing is found.`, strings.Join(names, ", "))
}

type normBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type modelObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        normBox `json:"box"`
}

type modelReply struct {
	Objects []modelObject `json:"objects"`
}

func parseObjects(raw string) ([]modelObject, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, fmt.Errorf("model returned non-JSON response")
	}
	var reply modelReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return reply.Objects, nil
}

// toRegions converts normalized model boxes to pixel regions. Unknown labels
// and detections under the confidence threshold are dropped, then same-class
// boxes are suppressed greedily by IoU.
func (d *OllamaDetector) toRegions(objects []modelObject, fw, fh float64, req Request) []annotation.Region {
	byName := make(map[string]int, len(d.classes))
	for id, name := range d.classes {
		byName[strings.ToLower(strings.TrimSpace(name))] = id
	}

	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].Confidence > objects[j].Confidence
	})

	kept := []annotation.Region{}
	for _, o := range objects {
		id, ok := byName[strings.ToLower(strings.TrimSpace(o.Label))]
		if !ok || o.Confidence < req.Confidence {
			continue
		}
		rect := geometry.Clamp(geometry.Rect{
			X: o.Box.X * fw,
			Y: o.Box.Y * fh,
			W: o.Box.W * fw,
			H: o.Box.H * fh,
		}, fw, fh)

		if suppressed(kept, id, rect, req.IoU) {
			continue
		}
		score := o.Confidence
		r := annotation.Region{ID: d.newID(), ClassID: id, ClassName: d.classes[id], Score: &score}
		r.SetRect(rect)
		kept = append(kept, r)
	}
	return kept
}

func suppressed(kept []annotation.Region, classID int, rect geometry.Rect, iou float64) bool {
	b := rect.Bounds()
	for i := range kept {
		if kept[i].ClassID != classID {
			continue
		}
		if geometry.IoU(kept[i].Rect().Bounds(), b) > iou {
			return true
		}
	}
	return false
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas, and
// keeps only the outermost object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
