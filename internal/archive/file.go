package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiliankoe/turnwarden/internal/journal"
)

// FileSink appends a readable report of every finished session to one text
// file.
type FileSink struct {
	mu    sync.Mutex
	path  string
	clock clockwork.Clock
}

func NewFileSink(path string, clock clockwork.Clock) *FileSink {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileSink{path: path, clock: clock}
}

func (f *FileSink) Archive(_ context.Context, code string, entries []journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if _, err := os.Stat(f.path); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	if fileExists {
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Turnwarden journal - Session %s\n", code))
	sb.WriteString(fmt.Sprintf("Archived: %s\n", f.clock.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("#%s %s %s", e.ID, e.At.Format(time.TimeOnly), e.Type))
		if len(e.Fields) > 0 {
			payload, err := json.Marshal(e.Fields)
			if err != nil {
				return fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
			}
			sb.WriteString(" " + string(payload))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Repeat("=", 50) + "\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
