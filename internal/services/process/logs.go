package process

import (
	"bytes"
	"strings"
	"sync"

	"stagehand/pkg/logging"
)

const maxCapturedBytes = 1 << 20

// Logs is the output captured from a process.
type Logs struct {
	Stdout   string
	Stderr   string
	Combined string
}

// logCapture collects stdout and stderr of one process. Complete lines are
// also forwarded to the debug log.
type logCapture struct {
	stdout *streamBuffer
	stderr *streamBuffer
}

func newLogCapture(name string) *logCapture {
	return &logCapture{
		stdout: &streamBuffer{name: name, stream: "stdout"},
		stderr: &streamBuffer{name: name, stream: "stderr"},
	}
}

func (lc *logCapture) close() {
	lc.stdout.flush()
	lc.stderr.flush()
}

func (lc *logCapture) snapshot() Logs {
	stdout := lc.stdout.String()
	stderr := lc.stderr.String()

	var combined strings.Builder
	if stdout != "" {
		combined.WriteString("=== STDOUT ===\n")
		combined.WriteString(stdout)
	}
	if stderr != "" {
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString("=== STDERR ===\n")
		combined.WriteString(stderr)
	}

	return Logs{Stdout: stdout, Stderr: stderr, Combined: combined.String()}
}

// streamBuffer is an io.Writer keeping the last maxCapturedBytes of a stream.
type streamBuffer struct {
	name   string
	stream string

	mu      sync.Mutex
	buf     bytes.Buffer
	partial []byte
}

func (s *streamBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(p)
	if over := s.buf.Len() - maxCapturedBytes; over > 0 {
		s.buf.Next(over)
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		logging.Debug(subsystem, "[%s %s] %s", s.name, s.stream, s.partial[:i])
		s.partial = s.partial[i+1:]
	}
	return len(p), nil
}

func (s *streamBuffer) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.partial) > 0 {
		logging.Debug(subsystem, "[%s %s] %s", s.name, s.stream, s.partial)
		s.partial = nil
	}
}

func (s *streamBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
