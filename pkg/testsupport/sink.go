package testsupport

import (
	"strings"
	"sync"
)

// RecordingSink keeps every run-log line written to it.
type RecordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *RecordingSink) Write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

// Lines returns a copy of the recorded lines.
func (s *RecordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Matching returns the lines logged under key.
func (s *RecordingSink) Matching(key string) []string {
	var out []string
	for _, l := range s.Lines() {
		if strings.Contains(l, " "+key+" = ") {
			out = append(out, l)
		}
	}
	return out
}

// Reset drops the recorded lines.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
}
