package reporting

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"time"
)

//go:embed templates/report.html
var reportHTML string

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"duration": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
}).Parse(reportHTML))

// Meta is the context printed in the report header.
type Meta struct {
	Title       string
	Generated   time.Time
	Environment string
	RunID       string
	Git         *GitInfo
}

// RenderHTML writes the summary as a standalone HTML document suitable for
// an email body.
func RenderHTML(w io.Writer, s *Summary, meta Meta) error {
	if meta.Generated.IsZero() {
		meta.Generated = time.Now()
	}
	data := struct {
		Meta
		Summary *Summary
	}{meta, s}
	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render html report: %w", err)
	}
	return nil
}
