package process

import (
	"bytes"
	"io"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/loraci/internal/logfields"
)

// maxLine caps a single buffered line; longer lines are split.
const maxLine = 64 * 1024

// tailWriter splits output into lines, logs them at debug level, mirrors
// raw bytes to an optional sink and keeps the last n lines.
type tailWriter struct {
	mu      sync.Mutex
	n       int
	step    string
	sink    io.Writer
	partial []byte
	lines   []string
}

func newTailWriter(n int, step string, sink io.Writer) *tailWriter {
	return &tailWriter{n: n, step: step, sink: sink}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sink != nil {
		_, _ = w.sink.Write(p)
	}
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			if len(w.partial) > maxLine {
				w.push(string(w.partial[:maxLine]))
				w.partial = w.partial[maxLine:]
				continue
			}
			break
		}
		w.push(string(bytes.TrimRight(w.partial[:i], "\r")))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// Flush records any trailing text without a newline.
func (w *tailWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.push(string(w.partial))
		w.partial = nil
	}
}

// Lines returns a copy of the retained lines.
func (w *tailWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}

func (w *tailWriter) push(line string) {
	slog.Debug(line, logfields.Step(w.step))
	w.lines = append(w.lines, line)
	if len(w.lines) > w.n {
		w.lines = w.lines[len(w.lines)-w.n:]
	}
}
