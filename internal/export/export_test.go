package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/rules"
)

func TestStem(t *testing.T) {
	tests := []struct {
		name string
		item annotation.ImageItem
		want string
	}{
		{"filename", annotation.ImageItem{Filename: "gel_01.png", StoredFilename: "x.png"}, "gel_01"},
		{"stored fallback", annotation.ImageItem{StoredFilename: "abc123_gel.tif"}, "abc123_gel"},
		{"multiple dots", annotation.ImageItem{Filename: "run.2.jpeg"}, "run.2"},
		{"no extension", annotation.ImageItem{Filename: "plate"}, "plate"},
		{"directories dropped", annotation.ImageItem{Filename: "a/b/c.png"}, "c"},
		{"empty", annotation.ImageItem{}, "image"},
		{"dotfile", annotation.ImageItem{Filename: ".png"}, "image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Stem(&tt.item))
		})
	}
}

func TestYOLOLabels(t *testing.T) {
	it := &annotation.ImageItem{
		Filename: "a.png", Width: 200, Height: 100,
		Regions: []annotation.Region{
			{ID: "1", X: 50, Y: 25, W: 100, H: 50, ClassID: 0},
			{ID: "2", X: 0, Y: 0, W: 3, H: 3, ClassID: 1},
		},
	}
	want := "0 0.500000 0.500000 0.500000 0.500000\n" +
		"1 0.007500 0.015000 0.015000 0.030000\n"
	assert.Equal(t, want, YOLOLabels(it))

	lf := Labels(it)
	assert.Equal(t, "a.txt", lf.Name)
	assert.Equal(t, want, lf.Text)
}

func TestYOLOLabels_NoFrame(t *testing.T) {
	it := &annotation.ImageItem{Regions: []annotation.Region{{ID: "1", W: 3, H: 3}}}
	assert.Empty(t, YOLOLabels(it))
}

func TestClassesText(t *testing.T) {
	assert.Equal(t, "microgel\ncell\n", ClassesText(annotation.ClassMap{1: "cell", 0: "microgel"}))
	assert.Equal(t, "class0\nmicrogel\nclass2\ncell\n", ClassesText(annotation.ClassMap{3: "cell", 1: "microgel"}))
	assert.Empty(t, ClassesText(nil))
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = string(b)
	}
	return files
}

func TestWriteYOLOZip(t *testing.T) {
	items := []*annotation.ImageItem{
		{Filename: "a.png", Width: 10, Height: 10, Regions: []annotation.Region{{ID: "r", X: 0, Y: 0, W: 10, H: 10, ClassID: 1}}},
		{Filename: "b.jpg", Width: 10, Height: 10},
		{Filename: "a.tif", Width: 10, Height: 10},
	}
	classes := annotation.ClassMap{0: "microgel", 1: "cell"}

	var buf bytes.Buffer
	require.NoError(t, WriteYOLOZip(&buf, items, classes))

	files := readZip(t, buf.Bytes())
	assert.Equal(t, map[string]string{
		"labels/a.txt":   "1 0.500000 0.500000 1.000000 1.000000\n",
		"labels/b.txt":   "",
		"labels/a_2.txt": "",
		"classes.txt":    "microgel\ncell\n",
	}, files)
}

func TestWriteReport(t *testing.T) {
	items := []*annotation.ImageItem{
		{Filename: "a.png", Width: 640, Height: 480, Counts: annotation.Summary{Microgel: 3, Cell: 7}},
		{StoredFilename: "u_b.png", Width: 320, Height: 240, Counts: annotation.Summary{Microgel: 1, Cell: 0}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, items, rules.Config{OverlapIoU: 0.2, EdgeOutsidePercent: 150}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		ReportHeader,
		{"a.png", "640", "480", "3", "7", "0.2", "100"},
		{"u_b.png", "320", "240", "1", "0", "0.2", "100"},
		{"TOTAL", "", "", "4", "7", "0.2", "100"},
	}, records)
}

func TestWriteReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, nil, rules.Default()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		ReportHeader,
		{"TOTAL", "", "", "0", "0", "0.1", "50"},
	}, records)
}

func TestRows(t *testing.T) {
	items := []*annotation.ImageItem{{Filename: "a.png", Width: 1, Height: 2, Counts: annotation.Summary{Microgel: 5, Cell: 6}}}
	rows := Rows(items, rules.Default())
	require.Len(t, rows, 1)
	assert.Equal(t, Row{Filename: "a.png", Width: 1, Height: 2, Microgel: 5, Cell: 6, OverlapIoU: 0.1, EdgeOutsidePercent: 50}, rows[0])
}
