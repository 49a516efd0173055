package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner draws a one-line spinner until stopped.
type Spinner struct {
	out      io.Writer
	message  string
	frames   []string
	interval time.Duration
	done     chan struct{}
	exited   chan struct{}
	stopped  bool
}

// NewConnectionSpinner creates a spinner for network operations (Globe style).
func NewConnectionSpinner(message string) *Spinner {
	return newSpinner(os.Stdout, message, spinner.Globe)
}

// NewWaitingSpinner creates a spinner for waiting on remote parties (Points style).
func NewWaitingSpinner(message string) *Spinner {
	return newSpinner(os.Stdout, message, spinner.Points)
}

func newSpinner(out io.Writer, message string, s spinner.Spinner) *Spinner {
	return &Spinner{
		out:      out,
		message:  message,
		frames:   s.Frames,
		interval: s.FPS,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	go func() {
		defer close(s.exited)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for i := 0; ; i++ {
			frame := SpinnerStyle.Render(s.frames[i%len(s.frames)])
			fmt.Fprintf(s.out, "\r%s %s", frame, s.message)
			select {
			case <-s.done:
				return
			case <-t.C:
			}
		}
	}()
}

// Stop clears the spinner line. Later calls do nothing.
func (s *Spinner) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	<-s.exited
	fmt.Fprint(s.out, "\r\033[K")
}

// Spin shows a connection spinner while fn runs and reports its outcome.
func Spin(ctx context.Context, message, success string, fn func(ctx context.Context) error) error {
	sp := NewConnectionSpinner(message)
	sp.Start()
	err := fn(ctx)
	sp.Stop()
	if err != nil {
		fmt.Fprintf(sp.out, "%s %s\n", ErrorStyle.Render(IconError), err)
		return err
	}
	fmt.Fprintf(sp.out, "%s %s\n", SuccessStyle.Render(IconSuccess), success)
	return nil
}
