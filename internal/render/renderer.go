// Package render rebuilds the detections table from canonical records.
package render

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/detection"
)

// Columns is the fixed header of the detections table.
var Columns = []string{"ID", "Label", "Confidence", "Timestamp", "Posture", "Motion", "Scale→Child", "Crop"}

const (
	// Placeholder fills the crop cell of rows without a crop.
	Placeholder = "—"
	// ThumbnailWidth bounds the crop image width in pixels.
	ThumbnailWidth = 84
)

// Thumbnail is an image reference for the crop column. A zero URL means the
// cell shows Placeholder instead.
type Thumbnail struct {
	URL   string `json:"url,omitempty"`
	Alt   string `json:"alt,omitempty"`
	Lazy  bool   `json:"lazy,omitempty"`
	Width int    `json:"width,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Row is one fully formatted table row.
type Row struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Confidence string    `json:"confidence"`
	Timestamp  string    `json:"timestamp"`
	Posture    string    `json:"posture"`
	Motion     string    `json:"motion"`
	ScaleHint  string    `json:"scale_hint"`
	Thumbnail  Thumbnail `json:"thumbnail"`
	Highlight  bool      `json:"highlight"`
}

// Cells returns the row's text in Columns order.
func (r Row) Cells() []string {
	crop := r.Thumbnail.Text
	if r.Thumbnail.URL != "" {
		crop = r.Thumbnail.URL
	}
	return []string{r.ID, r.Label, r.Confidence, r.Timestamp, r.Posture, r.Motion, r.ScaleHint, crop}
}

// Table is a render target. Replace swaps the entire visible row set.
type Table interface {
	Replace(rows []Row)
}

// Options tune presentation.
type Options struct {
	// Location for timestamps; nil means time.Local.
	Location *time.Location
	// ResolveURL turns a crop reference into a loadable URL; nil keeps it as is.
	ResolveURL func(ref string) string
}

// Renderer formats canonical detections into a Table.
type Renderer struct {
	table Table
	opts  Options
}

// New creates a Renderer writing into table.
func New(table Table, opts Options) *Renderer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Renderer{table: table, opts: opts}
}

// Render replaces the table content with items, newest (last received) first.
func (r *Renderer) Render(items []detection.Canonical) {
	r.table.Replace(r.Rows(items))
}

// Rows formats items without touching the table.
func (r *Renderer) Rows(items []detection.Canonical) []Row {
	rows := make([]Row, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		rows = append(rows, r.row(items[i]))
	}
	return rows
}

func (r *Renderer) row(item detection.Canonical) Row {
	return Row{
		ID:         orNA(item.HumanID),
		Label:      orNA(item.Label),
		Confidence: FormatFixed(item.Confidence),
		Timestamp:  FormatTimestamp(item.Timestamp, r.opts.Location),
		Posture:    orNA(item.Posture),
		Motion:     FormatFixed(item.Motion),
		ScaleHint:  yesNo(item.ScaleHint),
		Thumbnail:  r.thumbnail(item),
		Highlight:  IsHighlighted(item),
	}
}

func (r *Renderer) thumbnail(item detection.Canonical) Thumbnail {
	if item.CropURL == "" {
		return Thumbnail{Text: Placeholder}
	}
	url := item.CropURL
	if r.opts.ResolveURL != nil {
		url = r.opts.ResolveURL(url)
	}
	alt := item.HumanID
	if alt == "" {
		alt = item.Label
	}
	if alt == "" {
		alt = "crop"
	}
	return Thumbnail{URL: url, Alt: alt, Lazy: true, Width: ThumbnailWidth}
}

// MultiTable fans one render out to several tables.
type MultiTable []Table

// Replace forwards rows to every table.
func (m MultiTable) Replace(rows []Row) {
	for _, t := range m {
		t.Replace(rows)
	}
}
