// Package ui renders pipeline progress and reports on a terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"mender/agent"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// StatusLine manages an in-place updating status line in the terminal.
// On non-terminal writers each message is printed once on its own line.
type StatusLine struct {
	mu          sync.Mutex
	out         io.Writer
	active      bool
	message     string
	spinner     []string
	spinnerIdx  int
	stopCh      chan struct{}
	done        chan struct{}
	lastLineLen int
	isTTY       bool
}

// NewStatusLine creates a status line writing to out
func NewStatusLine(out io.Writer) *StatusLine {
	return &StatusLine{
		out:     out,
		spinner: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		isTTY:   isTerminal(out),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Start displays msg with an animated spinner until Stop is called
func (s *StatusLine) Start(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isTTY {
		fmt.Fprintln(s.out, msg)
		return
	}
	if s.active {
		s.message = msg
		return
	}

	s.message = msg
	s.active = true
	s.spinnerIdx = 0
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.animate(s.stopCh, s.done)
}

// Update changes the message, keeping the spinner running
func (s *StatusLine) Update(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isTTY {
		fmt.Fprintln(s.out, msg)
		return
	}
	s.message = msg
}

// Stop removes the status line and stops the animation
func (s *StatusLine) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.clear()
	s.message = ""
	s.mu.Unlock()
}

func (s *StatusLine) animate(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.spinnerIdx = (s.spinnerIdx + 1) % len(s.spinner)
			s.clear()
			s.print(fmt.Sprintf("%s%s%s %s", colorGreen, s.spinner[s.spinnerIdx], colorReset, s.message))
			s.mu.Unlock()
		}
	}
}

// print outputs text without newline
func (s *StatusLine) print(text string) {
	fmt.Fprint(s.out, text)
	s.lastLineLen = len(text)
}

// clear erases the current line
func (s *StatusLine) clear() {
	if s.lastLineLen > 0 {
		fmt.Fprint(s.out, "\r"+strings.Repeat(" ", s.lastLineLen)+"\r")
		s.lastLineLen = 0
	}
}

// EventMessage renders a task lifecycle event for the status line
func EventMessage(ev agent.Event) string {
	msg := fmt.Sprintf("%s %s", ev.TaskType, strings.TrimPrefix(string(ev.Type), "task_"))
	if ev.Agent != "" {
		msg += " on " + ev.Agent
	}
	return msg
}
