package detect

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
)

type fakeChat struct {
	replies []string
	err     error
	reqs    []*api.ChatRequest
}

func (f *fakeChat) Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return f.err
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return fn(api.ChatResponse{Message: api.Message{Role: "assistant", Content: reply}})
}

func newTestOllama(t *testing.T, chat chatClient) *OllamaDetector {
	t.Helper()
	seq := 0
	d, err := NewOllamaDetector("http://localhost:11434/api/chat", "", imaging.NewImageCache(),
		withChatClient(chat),
		WithRegionIDs(func() string {
			seq++
			return fmt.Sprintf("id%d", seq)
		}))
	require.NoError(t, err)
	return d
}

func TestNewOllamaDetector_InvalidURL(t *testing.T) {
	_, err := NewOllamaDetector("localhost", "m", imaging.NewImageCache())
	assert.Error(t, err)
}

func TestOllamaDetector_Detect(t *testing.T) {
	path := writePNG(t, t.TempDir(), "gel.png", 200, 100)
	reply := "```json\n" + `{
  "objects": [
    {"label": "Microgel", "confidence": 0.9, "box": {"x": 0.1, "y": 0.1, "w": 0.5, "h": 0.5}},
    {"label": "microgel", "confidence": 0.8, "box": {"x": 0.11, "y": 0.1, "w": 0.5, "h": 0.5}},
    {"label": "cell", "confidence": 0.7, "box": {"x": 0.2, "y": 0.2, "w": 0.05, "h": 0.1}},
    {"label": "cell", "confidence": 0.1, "box": {"x": 0.6, "y": 0.6, "w": 0.05, "h": 0.1}},
    {"label": "dust", "confidence": 0.99, "box": {"x": 0.0, "y": 0.0, "w": 0.1, "h": 0.1}},
  ]
}` + "\n```"

	chat := &fakeChat{replies: []string{reply}}
	d := newTestOllama(t, chat)
	assert.Equal(t, "ollama", d.Name())

	batch, err := d.Detect(context.Background(), NewRequest(path))
	require.NoError(t, err)

	assert.Equal(t, "microgel", batch.ClassMap[0])
	require.Len(t, batch.Images, 1)
	it := batch.Images[0]
	assert.Equal(t, "gel.png", it.Filename)
	assert.Equal(t, path, it.Path)
	assert.Equal(t, 200, it.Width)
	assert.Equal(t, 100, it.Height)

	require.Len(t, it.Regions, 2, "duplicate microgel suppressed, low score and unknown label dropped")
	g := it.Regions[0]
	assert.Equal(t, 0, g.ClassID)
	assert.Equal(t, "microgel", g.ClassName)
	assert.InDelta(t, 20, g.X, 1e-9)
	assert.InDelta(t, 10, g.Y, 1e-9)
	assert.InDelta(t, 100, g.W, 1e-9)
	assert.InDelta(t, 50, g.H, 1e-9)
	require.NotNil(t, g.Score)
	assert.InDelta(t, 0.9, *g.Score, 1e-9)

	c := it.Regions[1]
	assert.Equal(t, 1, c.ClassID)
	assert.Equal(t, "cell", c.ClassName)

	require.Len(t, chat.reqs, 1)
	req := chat.reqs[0]
	assert.Equal(t, DefaultOllamaModel, req.Model)
	require.Len(t, req.Messages, 1)
	assert.Len(t, req.Messages[0].Images, 1)
	assert.Contains(t, req.Messages[0].Content, `"microgel", "cell"`)
	require.NotNil(t, req.Stream)
	assert.False(t, *req.Stream)
}

func TestOllamaDetector_BoxesClampedToFrame(t *testing.T) {
	path := writePNG(t, t.TempDir(), "gel.png", 100, 100)
	chat := &fakeChat{replies: []string{`{"objects":[{"label":"cell","confidence":1,"box":{"x":0.9,"y":0.9,"w":0.5,"h":0.5}}]}`}}

	batch, err := newTestOllama(t, chat).Detect(context.Background(), NewRequest(path))
	require.NoError(t, err)
	require.Len(t, batch.Images[0].Regions, 1)
	r := batch.Images[0].Regions[0]
	assert.InDelta(t, 10, r.W, 1e-9)
	assert.InDelta(t, 10, r.H, 1e-9)
}

func TestOllamaDetector_Errors(t *testing.T) {
	path := writePNG(t, t.TempDir(), "gel.png", 10, 10)

	_, err := newTestOllama(t, &fakeChat{}).Detect(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoImages)

	boom := errors.New("connection refused")
	_, err = newTestOllama(t, &fakeChat{err: boom}).Detect(context.Background(), NewRequest(path))
	assert.ErrorIs(t, err, boom)

	_, err = newTestOllama(t, &fakeChat{replies: []string{"I see two microgels."}}).Detect(context.Background(), NewRequest(path))
	assert.ErrorContains(t, err, "non-JSON")
}

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Here you go: {"a":1} hope it helps`, `{"a":1}`},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"block comment", `{/* note */"a":1}`, `{"a":1}`},
		{"line comment", "{\n// note\n\"a\":1}", "{\n\n\"a\":1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeModelJSON(tt.in))
		})
	}
}
