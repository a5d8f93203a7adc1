// Package targets reads the target list produced by the discovery stage.
// It normalises each entry to a bare host name, drops duplicates and
// applies include/exclude patterns before anything is scheduled.
package targets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// maxLineLen bounds a single input line.
const maxLineLen = 64 * 1024

// hostPattern matches a DNS name: labels of letters, digits, hyphens and
// underscores (for _dmarc style records), separated by dots.
var hostPattern = regexp.MustCompile(`^(?:[a-z0-9_](?:[a-z0-9_-]{0,61}[a-z0-9])?\.)*[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// Options controls how targets are loaded.
type Options struct {
	// StripWWW removes a leading "www." label.
	StripWWW bool

	// Filter drops targets not matching its patterns. Nil keeps everything.
	Filter *Filter
}

// Warning describes an input line that was not used.
type Warning struct {
	Line   int
	Text   string
	Reason string
}

// String renders the warning as "line 4: reason: text".
func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s: %q", w.Line, w.Reason, w.Text)
}

// List is the outcome of loading a target file.
type List struct {
	// Targets are the unique, normalised targets in first-seen order.
	Targets []types.Target

	// Duplicates counts repeated entries that were dropped.
	Duplicates int

	// Filtered counts entries dropped by the include/exclude patterns.
	Filtered int

	// Warnings lists invalid lines.
	Warnings []Warning
}

// Load reads one target per line. Blank lines and '#' comments are
// skipped; invalid entries become warnings rather than errors. Only I/O
// failures are returned as errors.
func Load(r io.Reader, opts Options) (*List, error) {
	list := &List{}
	seen := make(map[types.Target]struct{})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLen)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := stripComment(raw)
		if line == "" {
			continue
		}

		t, err := Normalize(line, opts.StripWWW)
		if err != nil {
			list.Warnings = append(list.Warnings, Warning{Line: lineNo, Text: strings.TrimSpace(raw), Reason: err.Error()})
			continue
		}
		if _, dup := seen[t]; dup {
			list.Duplicates++
			continue
		}
		seen[t] = struct{}{}

		if !opts.Filter.Match(t) {
			list.Filtered++
			continue
		}
		list.Targets = append(list.Targets, t)
	}
	if err := scanner.Err(); err != nil {
		return list, fmt.Errorf("read targets: %w", err)
	}
	return list, nil
}

// LoadFile opens path and calls Load. A path of "-" reads standard input.
func LoadFile(path string, opts Options) (*List, error) {
	if path == "-" {
		return Load(os.Stdin, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open target file: %w", err)
	}
	defer f.Close()
	return Load(f, opts)
}

// Normalize turns a user-supplied URL or host into a bare lowercase host.
// Scheme, credentials, path, query, port and trailing dots are removed.
func Normalize(s string, stripWWW bool) (types.Target, error) {
	h := strings.ToLower(strings.TrimSpace(s))

	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	if i := strings.LastIndex(h, "@"); i >= 0 {
		h = h[i+1:]
	}
	h = stripPort(h)
	h = strings.TrimRight(h, ".")
	if stripWWW {
		h = strings.TrimPrefix(h, "www.")
	}

	switch {
	case h == "":
		return "", errors.New("empty host")
	case len(h) > 253:
		return "", errors.New("host longer than 253 characters")
	case strings.ContainsAny(h, " \t"):
		return "", errors.New("contains whitespace")
	case !hostPattern.MatchString(h):
		return "", errors.New("not a valid host name")
	}
	return types.Target(h), nil
}

func stripPort(h string) string {
	i := strings.LastIndex(h, ":")
	if i < 0 {
		return h
	}
	port := h[i+1:]
	for _, r := range port {
		if r < '0' || r > '9' {
			return h
		}
	}
	return h[:i]
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		// Only a leading or blank-prefixed '#' starts a comment; URL
		// fragments are removed by Normalize.
		if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
			line = line[:i]
		}
	}
	return strings.TrimSpace(line)
}

// FromStrings loads targets given directly, e.g. as command arguments.
func FromStrings(entries []string, opts Options) *List {
	// Reading from memory cannot fail.
	list, _ := Load(strings.NewReader(strings.Join(entries, "\n")), opts)
	return list
}
