package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/jamesainslie/easscan/pkg/easscan/tuner"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
	"github.com/jamesainslie/easscan/pkg/easscan/workspace"
)

// maxAttempts bounds how often an unreadable answer is asked again.
const maxAttempts = 3

// prompter asks the operator questions on a line-oriented terminal. It
// only populates values; validation happens in the pool and workspace
// constructors.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// interactive reports whether stdin and stderr are terminals.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// readLine returns the next trimmed line. io.EOF is returned only when
// nothing was read.
func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// workers offers the advice and returns the accepted worker count. An
// empty answer or end of input takes the suggestion; larger requests are
// clamped to the hard cap.
func (p *prompter) workers(advice tuner.Advice) (int, error) {
	snap := advice.Snapshot
	fmt.Fprintf(p.out, "Host: %d cores, %s GB available RAM, cpu %.0f%%, mem %.0f%%\n",
		snap.CoreCount, humanize.FtoaWithDigits(snap.AvailableRAMGB, 1), snap.CPUPercent, snap.MemPercent)
	fmt.Fprintf(p.out, "Suggested workers: %d (hard cap %d, limited by %s)\n",
		advice.Suggested, advice.HardCap, advice.Limiter())

	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprintf(p.out, "Workers [%d]: ", advice.Suggested)
		line, err := p.readLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(p.out)
			return advice.Suggested, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading worker count: %w", err)
		}
		if line == "" {
			return advice.Suggested, nil
		}

		n, err := strconv.Atoi(line)
		if err != nil {
			fmt.Fprintf(p.out, "%q is not a number.\n", line)
			continue
		}
		accepted := advice.Accept(n)
		if accepted != n {
			fmt.Fprintf(p.out, "Using %d (allowed range 1-%d).\n", accepted, advice.HardCap)
		}
		return accepted, nil
	}
	fmt.Fprintf(p.out, "Using the suggested %d workers.\n", advice.Suggested)
	return advice.Suggested, nil
}

// conflicts lists targets with existing output and asks once for a
// strategy. Without a usable answer existing output is kept.
func (p *prompter) conflicts(entries []workspace.Entry) (workspace.Strategy, error) {
	fmt.Fprintf(p.out, "%d %s already %s output:\n", len(entries),
		pluralize(len(entries), "target", "targets"), pluralize(len(entries), "has", "have"))
	const shown = 10
	for i, e := range entries {
		if i == shown {
			fmt.Fprintf(p.out, "  ... and %d more\n", len(entries)-shown)
			break
		}
		fmt.Fprintf(p.out, "  %-40s %4d files  %8s  %s\n", e.Target, e.Files,
			types.FormatSize(e.Bytes), humanize.Time(e.Modified))
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprint(p.out, "What would you like to do?\n  1. Skip these targets\n  2. Overwrite existing results\n  3. Keep them and write to new timestamped directories\nChoice (1/2/3) [1]: ")
		line, err := p.readLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(p.out)
			return workspace.StrategySkip, nil
		}
		if err != nil {
			return workspace.StrategySkip, fmt.Errorf("reading conflict choice: %w", err)
		}

		switch strings.ToLower(line) {
		case "", "1", "skip", "s":
			return workspace.StrategySkip, nil
		case "2", "overwrite", "o":
			return workspace.StrategyOverwrite, nil
		case "3", "timestamp", "t":
			return workspace.StrategyTimestamp, nil
		}
		fmt.Fprintf(p.out, "%q is not a valid choice.\n", line)
	}
	fmt.Fprintln(p.out, "Skipping targets with existing output.")
	return workspace.StrategySkip, nil
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
