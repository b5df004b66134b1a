// Package reporting turns a `go test -json` event stream into a run summary
// and renders it as an HTML email, JUnit XML, or a console table.
package reporting

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the outcome of a test or package.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// event is one line of `go test -json` output.
type event struct {
	Time       time.Time `json:"Time"`
	Action     string    `json:"Action"`
	Package    string    `json:"Package"`
	ImportPath string    `json:"ImportPath"`
	Test       string    `json:"Test"`
	Elapsed    float64   `json:"Elapsed"`
	Output     string    `json:"Output"`
}

// TestResult is the outcome of a single test or subtest.
type TestResult struct {
	Package  string
	Name     string
	Status   Status
	Duration time.Duration
	// Output holds the test's log lines. It is kept only for failed and
	// skipped tests.
	Output string
}

// PackageResult aggregates the tests of one package.
type PackageResult struct {
	Name     string
	Status   Status
	Duration time.Duration
	Passed   int
	Failed   int
	Skipped  int
	// Output holds package-level output when the package failed outside of
	// any test, for example a build error or a panic in TestMain.
	Output string
}

// Summary describes a whole test run.
type Summary struct {
	Tests    []TestResult
	Packages []PackageResult
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Start    time.Time
	Duration time.Duration
	// Unparsed counts input lines that were not JSON events.
	Unparsed int
}

// Success reports whether nothing failed, including packages that failed
// to build.
func (s *Summary) Success() bool {
	if s.Failed > 0 {
		return false
	}
	for _, p := range s.Packages {
		if p.Status == StatusFail {
			return false
		}
	}
	return true
}

// PassRate is the percentage of executed (non-skipped) tests that passed.
func (s *Summary) PassRate() float64 {
	ran := s.Passed + s.Failed
	if ran == 0 {
		return 0
	}
	return float64(s.Passed) * 100 / float64(ran)
}

// Failures returns the failed tests.
func (s *Summary) Failures() []TestResult {
	var out []TestResult
	for _, t := range s.Tests {
		if t.Status == StatusFail {
			out = append(out, t)
		}
	}
	return out
}

type testKey struct{ pkg, name string }

type testState struct {
	result TestResult
	output strings.Builder
	done   bool
}

type packageState struct {
	result PackageResult
	output strings.Builder
	done   bool
}

// Parse reads a `go test -json` stream. Lines that are not JSON, such as
// compiler output interleaved by `go test`, are counted and skipped.
func Parse(r io.Reader) (*Summary, error) {
	tests := make(map[testKey]*testState)
	pkgs := make(map[string]*packageState)
	var order []testKey
	var pkgOrder []string
	var first, last time.Time

	pkgFor := func(name string) *packageState {
		p, ok := pkgs[name]
		if !ok {
			p = &packageState{result: PackageResult{Name: name}}
			pkgs[name] = p
			pkgOrder = append(pkgOrder, name)
		}
		return p
	}

	s := &Summary{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event
		if line[0] != '{' || json.Unmarshal(line, &ev) != nil {
			s.Unparsed++
			continue
		}
		if !ev.Time.IsZero() {
			if first.IsZero() || ev.Time.Before(first) {
				first = ev.Time
			}
			if ev.Time.After(last) {
				last = ev.Time
			}
		}

		pkgName := ev.Package
		if pkgName == "" {
			// "pkg [pkg.test]" names the test binary being built.
			pkgName, _, _ = strings.Cut(ev.ImportPath, " ")
		}
		if pkgName == "" {
			continue
		}

		// Build events carry the import path and no Package.
		switch ev.Action {
		case "build-output":
			pkgFor(pkgName).output.WriteString(ev.Output)
			continue
		case "build-fail":
			p := pkgFor(pkgName)
			p.result.Status, p.done = StatusFail, true
			continue
		}

		if ev.Test == "" {
			p := pkgFor(pkgName)
			switch ev.Action {
			case "output":
				p.output.WriteString(ev.Output)
			case "pass", "fail", "skip":
				p.result.Status = Status(ev.Action)
				p.result.Duration = seconds(ev.Elapsed)
				p.done = true
			}
			continue
		}

		pkgFor(pkgName)
		key := testKey{pkgName, ev.Test}
		t, ok := tests[key]
		if !ok {
			t = &testState{result: TestResult{Package: pkgName, Name: ev.Test}}
			tests[key] = t
			order = append(order, key)
		}
		switch ev.Action {
		case "output":
			t.output.WriteString(ev.Output)
		case "pass", "fail", "skip":
			t.result.Status = Status(ev.Action)
			t.result.Duration = seconds(ev.Elapsed)
			t.done = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test event stream: %w", err)
	}

	// Tests that started but never reported were cut short, usually by a
	// panic or timeout that failed the package.
	for _, key := range order {
		t := tests[key]
		if !t.done {
			t.result.Status = StatusFail
		}
		if t.result.Status != StatusPass {
			t.result.Output = t.output.String()
		}
	}

	parents := make(map[testKey]bool)
	failedChild := make(map[testKey]bool)
	for _, key := range order {
		for name := key.name; strings.Contains(name, "/"); {
			name = name[:strings.LastIndex(name, "/")]
			parent := testKey{key.pkg, name}
			parents[parent] = true
			if tests[key].result.Status == StatusFail {
				failedChild[parent] = true
			}
		}
	}

	for _, key := range order {
		t := tests[key].result
		// A parent is reported only when it failed on its own account.
		if parents[key] && (t.Status != StatusFail || failedChild[key]) {
			continue
		}
		s.Tests = append(s.Tests, t)
		p := &pkgs[key.pkg].result
		switch t.Status {
		case StatusPass:
			s.Passed++
			p.Passed++
		case StatusFail:
			s.Failed++
			p.Failed++
		case StatusSkip:
			s.Skipped++
			p.Skipped++
		}
	}
	s.Total = len(s.Tests)

	for _, name := range pkgOrder {
		p := pkgs[name]
		if !p.done {
			p.result.Status = StatusFail
		}
		if p.result.Status == StatusFail && p.result.Failed == 0 {
			p.result.Output = p.output.String()
		}
		s.Packages = append(s.Packages, p.result)
	}

	sort.SliceStable(s.Tests, func(i, j int) bool {
		a, b := s.Tests[i], s.Tests[j]
		if (a.Status == StatusFail) != (b.Status == StatusFail) {
			return a.Status == StatusFail
		}
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		return a.Name < b.Name
	})
	sort.Slice(s.Packages, func(i, j int) bool { return s.Packages[i].Name < s.Packages[j].Name })

	s.Start = first
	if !first.IsZero() {
		s.Duration = last.Sub(first)
	}
	return s, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second)).Round(time.Millisecond)
}
