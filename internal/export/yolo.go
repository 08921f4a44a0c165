package export

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
)

// DefaultStem names label files of images without a filename.
const DefaultStem = "image"

// LabelFile is one YOLO label file.
type LabelFile struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Stem returns the image's filename, or stored filename, without its
// extension.
func Stem(it *annotation.ImageItem) string {
	name := it.Filename
	if name == "" {
		name = it.StoredFilename
	}
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return DefaultStem
	}
	if stem := strings.TrimSuffix(name, filepath.Ext(name)); stem != "" {
		return stem
	}
	return DefaultStem
}

// YOLOLabels formats the image's regions as YOLO label lines:
// "classId cx cy w h", normalized by the image size with six decimals.
// An image without a valid size yields no lines.
func YOLOLabels(it *annotation.ImageItem) string {
	fw, fh := it.Frame()
	if fw <= 0 || fh <= 0 {
		return ""
	}

	var sb strings.Builder
	for i := range it.Regions {
		r := &it.Regions[i]
		c := r.Rect().Center()
		fmt.Fprintf(&sb, "%d %.6f %.6f %.6f %.6f\n", r.ClassID, c.X/fw, c.Y/fh, r.W/fw, r.H/fh)
	}
	return sb.String()
}

// Labels returns the label file for one image.
func Labels(it *annotation.ImageItem) LabelFile {
	return LabelFile{Name: Stem(it) + ".txt", Text: YOLOLabels(it)}
}

// ClassesText lists class names one per line by id, from 0 to the largest
// id. Missing ids are named "class<id>".
func ClassesText(classes annotation.ClassMap) string {
	ids := classes.IDs()
	if len(ids) == 0 || ids[len(ids)-1] < 0 {
		return ""
	}
	var sb strings.Builder
	for id := 0; id <= ids[len(ids)-1]; id++ {
		sb.WriteString(classes.Name(id, fmt.Sprintf("class%d", id)))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// WriteYOLOZip writes labels/<stem>.txt for every image and classes.txt to
// w as a zip archive. Repeated stems get a numeric suffix.
func WriteYOLOZip(w io.Writer, items []*annotation.ImageItem, classes annotation.ClassMap) error {
	zw := zip.NewWriter(w)

	seen := make(map[string]int, len(items))
	for _, it := range items {
		lf := Labels(it)
		stem := strings.TrimSuffix(lf.Name, ".txt")
		seen[stem]++
		if n := seen[stem]; n > 1 {
			lf.Name = fmt.Sprintf("%s_%d.txt", stem, n)
		}
		if err := writeZipFile(zw, "labels/"+lf.Name, lf.Text); err != nil {
			return err
		}
	}

	if err := writeZipFile(zw, "classes.txt", ClassesText(classes)); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zip: %w", err)
	}
	return nil
}

func writeZipFile(zw *zip.Writer, name, text string) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.WriteString(f, text); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
