package reporting

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// WriteJUnit writes the summary as JUnit XML, one testsuite per package.
func WriteJUnit(w io.Writer, s *Summary) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("testsuites")
	root.CreateAttr("tests", strconv.Itoa(s.Total))
	root.CreateAttr("failures", strconv.Itoa(s.Failed))
	root.CreateAttr("skipped", strconv.Itoa(s.Skipped))
	root.CreateAttr("time", secondsAttr(s.Duration))

	byPackage := make(map[string][]TestResult)
	for _, t := range s.Tests {
		byPackage[t.Package] = append(byPackage[t.Package], t)
	}

	for _, p := range s.Packages {
		tests := byPackage[p.Name]
		suite := root.CreateElement("testsuite")
		suite.CreateAttr("name", p.Name)
		suite.CreateAttr("tests", strconv.Itoa(len(tests)))
		suite.CreateAttr("failures", strconv.Itoa(p.Failed))
		suite.CreateAttr("skipped", strconv.Itoa(p.Skipped))
		suite.CreateAttr("time", secondsAttr(p.Duration))
		if !s.Start.IsZero() {
			suite.CreateAttr("timestamp", s.Start.UTC().Format(time.RFC3339))
		}

		// A package that failed outside any test still needs a visible failure.
		if p.Status == StatusFail && p.Failed == 0 {
			suite.CreateAttr("errors", "1")
			e := suite.CreateElement("error")
			e.CreateAttr("message", "package failed")
			e.SetText(p.Output)
		}

		for _, t := range tests {
			tc := suite.CreateElement("testcase")
			tc.CreateAttr("classname", t.Package)
			tc.CreateAttr("name", t.Name)
			tc.CreateAttr("time", secondsAttr(t.Duration))
			switch t.Status {
			case StatusFail:
				f := tc.CreateElement("failure")
				f.CreateAttr("message", "test failed")
				f.SetText(t.Output)
			case StatusSkip:
				sk := tc.CreateElement("skipped")
				if t.Output != "" {
					sk.CreateAttr("message", lastLine(t.Output))
				}
			}
		}
	}

	doc.Indent(2)
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	return nil
}

func secondsAttr(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func lastLine(s string) string {
	lines := splitNonEmpty(s)
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
