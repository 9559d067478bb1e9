package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// rollingFile appends to the daily log file and moves on to
// log-YYYYMMDD_NNN.json once a file reaches limit bytes. A zero limit never rolls.
type rollingFile struct {
	mu    sync.Mutex
	dir   string
	day   string
	limit int64
	seq   int
	size  int64
	file  afero.File
}

func rollName(day string, seq int) string {
	if seq == 0 {
		return filePrefix + day + fileSuffix
	}
	return fmt.Sprintf("%s%s_%03d%s", filePrefix, day, seq, fileSuffix)
}

func openRolling(dir string, now time.Time, limit int64) (*rollingFile, error) {
	r := &rollingFile{dir: dir, day: now.Format("20060102"), limit: limit}
	// skip files already full from an earlier run today
	for r.limit > 0 {
		info, err := fs.Stat(filepath.Join(dir, rollName(r.day, r.seq)))
		if err != nil || info.Size() < r.limit {
			break
		}
		r.seq++
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rollingFile) open() error {
	path := filepath.Join(r.dir, rollName(r.day, r.seq))
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file, r.size = f, info.Size()
	return nil
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 && r.size > 0 && r.size+int64(len(p)) > r.limit {
		if err := r.file.Close(); err != nil {
			return 0, err
		}
		r.seq++
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rollingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
