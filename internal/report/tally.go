// Package report counts per-item outcomes of a batch run and prints the
// final summary. Failures are remembered with their last error so the
// summary can name what went wrong.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// maxListed bounds how many failures Write prints individually.
const maxListed = 20

// Failure is one failed item.
type Failure struct {
	Item string
	Err  string
	At   time.Time
}

// Summary is a snapshot of a Tally.
type Summary struct {
	Done     int
	Skipped  int
	Failed   int
	Failures []Failure
}

// Total returns the number of items seen.
func (s Summary) Total() int { return s.Done + s.Skipped + s.Failed }

// Tally accumulates outcomes. Thread-safe. An item that fails and later
// succeeds in the same run keeps only the success.
type Tally struct {
	mu       sync.Mutex
	done     int
	skipped  int
	failures map[string]*Failure
	order    []string
	logger   *slog.Logger
	nowFunc  func() time.Time // injectable for testing
}

// NewTally creates an empty Tally.
func NewTally(logger *slog.Logger) *Tally {
	if logger == nil {
		logger = slog.Default()
	}

	return &Tally{
		failures: make(map[string]*Failure),
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Done records a completed item.
func (t *Tally) Done(item string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clear(item)
	t.done++
}

// Skipped records an item that needed no work.
func (t *Tally) Skipped(item string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clear(item)
	t.skipped++
}

// Failed records a failed item and logs it at Warn.
func (t *Tally) Failed(item string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.failures[item]
	if !ok {
		f = &Failure{Item: item}
		t.failures[item] = f
		t.order = append(t.order, item)
	}

	f.Err = err.Error()
	f.At = t.nowFunc()

	t.logger.Warn("item failed",
		slog.String("item", item),
		slog.String("error", f.Err),
	)
}

func (t *Tally) clear(item string) {
	if _, ok := t.failures[item]; !ok {
		return
	}

	delete(t.failures, item)

	for i, it := range t.order {
		if it == item {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Summary returns the counts and failures in the order first seen.
func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{Done: t.done, Skipped: t.skipped, Failed: len(t.order)}

	for _, item := range t.order {
		s.Failures = append(s.Failures, *t.failures[item])
	}

	return s
}

// NewPrinter returns a number-formatting printer for lang, falling back to
// English when lang is empty or unparsable.
func NewPrinter(lang string) *message.Printer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}

	return message.NewPrinter(tag)
}

// Write prints one summary line, then up to maxListed failures:
//
//	wavelets: 1,204 exported, 37 skipped, 2 failed
//	  failed: a.com!w+1/a.com!conv+root: robot: protocol violation
func (s Summary) Write(w io.Writer, p *message.Printer, title, doneLabel string) error {
	if _, err := p.Fprintf(w, "%s: %d %s, %d skipped, %d failed\n",
		title, s.Done, doneLabel, s.Skipped, s.Failed); err != nil {
		return fmt.Errorf("report: writing summary: %w", err)
	}

	for i, f := range s.Failures {
		if i == maxListed {
			if _, err := p.Fprintf(w, "  ... and %d more\n", len(s.Failures)-maxListed); err != nil {
				return fmt.Errorf("report: writing summary: %w", err)
			}

			break
		}

		if _, err := fmt.Fprintf(w, "  failed: %s: %s\n", f.Item, f.Err); err != nil {
			return fmt.Errorf("report: writing summary: %w", err)
		}
	}

	return nil
}
