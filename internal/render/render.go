package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/mohammad-safakhou/wayfarer/models"
	"github.com/mohammad-safakhou/wayfarer/utils"
	"gopkg.in/yaml.v3"
)

// Format selects the on-disk representation of an itinerary.
type Format string

const (
	Markdown Format = "markdown"
	JSON     Format = "json"
	YAML     Format = "yaml"
)

// ParseFormat accepts the configured format name; empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", Markdown, "md":
		return Markdown, nil
	case JSON:
		return JSON, nil
	case YAML, "yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (markdown, json, yaml)", s)
	}
}

func (f Format) ext() string {
	switch f {
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	default:
		return "md"
	}
}

var markdownTmpl = template.Must(template.New("itinerary").Parse(`# {{.Destination}}
{{if .DurationDays}}
_{{.DurationDays}} days_
{{end}}
{{.Overview}}
{{range .Days}}
## Day {{.Day}}{{if .Theme}}: {{.Theme}}{{end}}
{{range .Activities}}
- **{{.TimeOfDay}}** {{.Title}}{{if .Location}} ({{.Location}}){{end}}
  {{.Description}}
{{- end}}
{{end}}
{{- if .Logistics}}
## Logistics
{{range .Logistics}}
- {{.}}
{{- end}}
{{end}}
{{- if .Sources}}
## Sources
{{range .Sources}}
- {{.}}
{{- end}}
{{end}}`))

// Encode renders it in format.
func Encode(it models.TripItinerary, format Format) ([]byte, error) {
	switch format {
	case JSON:
		return json.MarshalIndent(it, "", "  ")
	case YAML:
		return yaml.Marshal(it)
	default:
		var buf bytes.Buffer
		if err := markdownTmpl.Execute(&buf, it); err != nil {
			return nil, fmt.Errorf("render markdown: %w", err)
		}
		return buf.Bytes(), nil
	}
}

// FileName is itinerary_<destination slug>_<timestamp>.<ext>.
func FileName(it models.TripItinerary, format Format, at time.Time) string {
	slug := utils.Slug(it.Destination)
	if slug == "" {
		slug = "trip"
	}
	return fmt.Sprintf("itinerary_%s_%s.%s", slug, at.Format("20060102_150405"), format.ext())
}

// Save writes it into dir and returns the file path.
func Save(it models.TripItinerary, dir string, format Format, at time.Time) (string, error) {
	data, err := Encode(it, format)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, FileName(it, format, at))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write itinerary: %w", err)
	}
	return path, nil
}
