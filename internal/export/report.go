package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/rules"
)

// ReportHeader is the first row of the CSV report.
var ReportHeader = []string{"filename", "width", "height", "microgel", "cell", "overlap_iou", "edge_outside_percent"}

// TotalLabel is the filename column of the report's total row.
const TotalLabel = "TOTAL"

// Row is one image's line in the count report.
type Row struct {
	Filename           string  `json:"filename"`
	Width              int     `json:"width"`
	Height             int     `json:"height"`
	Microgel           int     `json:"microgel"`
	Cell               int     `json:"cell"`
	OverlapIoU         float64 `json:"overlap_iou"`
	EdgeOutsidePercent float64 `json:"edge_outside_percent"`
}

// Rows builds report rows from each image's stored counts and the rule
// configuration they were computed with.
func Rows(items []*annotation.ImageItem, cfg rules.Config) []Row {
	cfg = cfg.Clamped()
	rows := make([]Row, 0, len(items))
	for _, it := range items {
		name := it.Filename
		if name == "" {
			name = it.StoredFilename
		}
		rows = append(rows, Row{
			Filename:           name,
			Width:              it.Width,
			Height:             it.Height,
			Microgel:           it.Counts.Microgel,
			Cell:               it.Counts.Cell,
			OverlapIoU:         cfg.OverlapIoU,
			EdgeOutsidePercent: cfg.EdgeOutsidePercent,
		})
	}
	return rows
}

// WriteReport writes the count report as CSV: a header, one row per image
// and a total row.
func WriteReport(w io.Writer, items []*annotation.ImageItem, cfg rules.Config) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return err
	}

	cfg = cfg.Clamped()
	total := Row{Filename: TotalLabel, OverlapIoU: cfg.OverlapIoU, EdgeOutsidePercent: cfg.EdgeOutsidePercent}
	for _, r := range Rows(items, cfg) {
		if err := cw.Write(r.record()); err != nil {
			return err
		}
		total.Microgel += r.Microgel
		total.Cell += r.Cell
	}
	rec := total.record()
	rec[1], rec[2] = "", ""
	if err := cw.Write(rec); err != nil {
		return err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r Row) record() []string {
	return []string{
		r.Filename,
		strconv.Itoa(r.Width),
		strconv.Itoa(r.Height),
		strconv.Itoa(r.Microgel),
		strconv.Itoa(r.Cell),
		formatFloat(r.OverlapIoU),
		formatFloat(r.EdgeOutsidePercent),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
