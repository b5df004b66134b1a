package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Output formats accepted by WriteFile.
const (
	FormatHTML  = "html"
	FormatJUnit = "junit"
	FormatText  = "text"
)

// nopWriteCloser lets stdout stand in for a file without being closed.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Open returns a writer for outputPath. An empty path or "-" means stdout.
func Open(outputPath string) (io.WriteCloser, error) {
	if outputPath == "" || outputPath == "-" || outputPath == "stdout" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return f, nil
}

// WriteFile renders s in format to outputPath.
func WriteFile(format, outputPath string, s *Summary, meta Meta) (err error) {
	var render func(io.Writer) error
	switch format {
	case FormatHTML:
		render = func(w io.Writer) error { return RenderHTML(w, s, meta) }
	case FormatJUnit:
		render = func(w io.Writer) error { return WriteJUnit(w, s) }
	case FormatText:
		render = func(w io.Writer) error { return WriteText(w, s) }
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}

	w, err := Open(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", outputPath, cerr)
		}
	}()
	return render(w)
}

// WriteText prints a per-package table followed by the failures.
func WriteText(w io.Writer, s *Summary) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Package", "Status", "Passed", "Failed", "Skipped", "Duration"})
	for _, p := range s.Packages {
		t.AppendRow(table.Row{p.Name, colorStatus(p.Status), p.Passed, p.Failed, p.Skipped, p.Duration})
	}
	t.AppendFooter(table.Row{"Total", verdict(s), s.Passed, s.Failed, s.Skipped, s.Duration})
	t.Render()

	for _, f := range s.Failures() {
		if _, err := fmt.Fprintf(w, "\n--- FAIL: %s (%s) [%s]\n", f.Name, f.Duration, f.Package); err != nil {
			return err
		}
		for _, line := range splitNonEmpty(f.Output) {
			if _, err := fmt.Fprintf(w, "    %s\n", line); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "\n%.1f%% pass rate\n", s.PassRate())
	return err
}

func verdict(s *Summary) string {
	if s.Success() {
		return colorStatus(StatusPass)
	}
	return colorStatus(StatusFail)
}

func colorStatus(st Status) string {
	switch st {
	case StatusPass:
		return text.FgGreen.Sprint("PASS")
	case StatusFail:
		return text.FgRed.Sprint("FAIL")
	case StatusSkip:
		return text.FgYellow.Sprint("SKIP")
	}
	return string(st)
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimRight(line, " \t\r"))
		}
	}
	return out
}
