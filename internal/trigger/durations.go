package trigger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DurationLog appends "{date},{event},{duration}" lines to a per-origin
// file, the same shape original_source's trigger writes to
// logs/duration_{origin}.log.
type DurationLog struct {
	mu  sync.Mutex
	dir string
}

func NewDurationLog(dir string) *DurationLog {
	return &DurationLog{dir: dir}
}

func (d *DurationLog) Append(origin, date, event string, duration float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		slog.Warn("failed to create duration log dir", slog.Any("error", err))
		return
	}
	path := filepath.Join(d.dir, fmt.Sprintf("duration_%s.log", origin))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("failed to open duration log", slog.String("path", path), slog.Any("error", err))
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s,%s,%g\n", date, event, duration)
	if _, err := f.WriteString(line); err != nil {
		slog.Warn("failed to write duration log line", slog.Any("error", err))
	}
}
