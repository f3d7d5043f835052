package main

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays the current sync phase with elapsed or remaining time.
//
// Usage:
//
//	p := NewProgressPrinter(w, ...)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Start may be called at most once, and Stop
// should be called exactly once. A printer whose writer is not a terminal
// prints nothing.
type ProgressPrinter struct {
	out       io.Writer
	enabled   bool
	prefix    string
	phase     atomic.Value // stores string - current phase name
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{} // closed when goroutine exits
	started   atomic.Bool   // ensures Start is called at most once
	countUp   bool          // true for count up, false for countdown
	duration  time.Duration // for countdown mode
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time)
func NewProgressPrinter(out io.Writer, prefix string, phase string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:     out,
		enabled: isTerminal(out),
		prefix:  prefix,
		countUp: true,
	}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a progress printer that counts down from the duration
func NewCountdownProgressPrinter(out io.Writer, prefix string, phase string, duration time.Duration) *ProgressPrinter {
	p := NewProgressPrinter(out, prefix, phase)
	p.countUp = false
	p.duration = duration
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		return
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.startProgressLoop(ticker)
}

// SetPhase updates the phase shown on the next tick. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// printProgress displays a progress line with optional elapsed/remaining seconds
func (p *ProgressPrinter) printProgress(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) startProgressLoop(ticker *time.Ticker) {
	p.printProgress(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.printProgress(p.phase.Load().(string), p.seconds())
			}
		}
	}()
}

// Stop stops the progress display and clears the line.
// Safe to call multiple times and from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped or never started
	}

	ticker.Stop()     // Stop ticker before signaling goroutine
	close(p.stopChan) // Wake up goroutine by closing the channel
	<-p.done          // Wait for the goroutine to finish

	fmt.Fprint(p.out, clearLineSequence)
}
