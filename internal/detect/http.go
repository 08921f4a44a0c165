package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
)

// DetectPath is the detection endpoint relative to the service base URL.
const DetectPath = "/api/detect"

const maxErrorBody = 4 << 10

// HTTPDetector calls an object-detection service over HTTP.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// HTTPOption configures an HTTPDetector.
type HTTPOption func(*HTTPDetector)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDetector) { d.client = c }
}

// WithHTTPLogger sets the detector's logger.
func WithHTTPLogger(l *zap.Logger) HTTPOption {
	return func(d *HTTPDetector) { d.log = l }
}

// NewHTTPDetector returns a detector for the service at baseURL.
func NewHTTPDetector(baseURL string, opts ...HTTPOption) *HTTPDetector {
	d := &HTTPDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements Detector.
func (d *HTTPDetector) Name() string { return "http" }

// Detect uploads req.Paths as multipart "files" together with the "conf" and
// "iou" fields and decodes the service's batch response.
func (d *HTTPDetector) Detect(ctx context.Context, req Request) (*annotation.Batch, error) {
	if len(req.Paths) == 0 {
		return nil, ErrNoImages
	}
	req = req.Normalized()

	files, err := readFiles(ctx, req.Paths)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeForm(req, files)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+DetectPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build detect request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("detection service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var batch annotation.Batch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}
	attachPaths(&batch, req.Paths)

	d.log.Debug("detect response",
		zap.Int("images", len(batch.Images)),
		zap.Int("classes", len(batch.ClassMap)),
		zap.Duration("elapsed", time.Since(start)))
	return &batch, nil
}

type upload struct {
	name string
	data []byte
}

// readFiles reads every path concurrently. The first failure cancels the rest.
func readFiles(ctx context.Context, paths []string) ([]upload, error) {
	files := make([]upload, len(paths))
	g, gCtx := errgroup.WithContext(ctx)

	for i, p := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", p, err)
			}
			files[i] = upload{name: filepath.Base(p), data: data}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func encodeForm(req Request, files []upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to add %s: %w", f.name, err)
		}
		if _, err := part.Write(f.data); err != nil {
			return nil, "", fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}
	if err := mw.WriteField("conf", strconv.FormatFloat(req.Confidence, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("iou", strconv.FormatFloat(req.IoU, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
