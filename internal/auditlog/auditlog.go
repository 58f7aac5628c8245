// Package auditlog is a non-durable, append-only record of coordinator
// decisions, grounded on the teacher's network/coordinator/log_manager.go
// LogManager: a tidwall/wal log, a batch buffer, and a background goroutine
// that flushes the batch on a timer. Unlike the teacher's LogManager, this
// log is never read back and is truncated fresh on every daemon start —
// SPEC_FULL.md §4.5 is explicit that dtmd has no recovery log; restart loses
// all in-flight transactions, same as spec.md §6 says for coordinator state.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/wal"

	"github.com/dtmd/dtmd/internal/logx"
)

// Entry is one logged coordinator state transition.
type Entry struct {
	Gxid   uint64 `json:"gxid"`
	Status uint8  `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Log batches Entry writes and flushes them to a fresh tidwall/wal log on an
// interval, the same shape as the teacher's localBatchSyncLogger but driven
// by a stop channel instead of a bare context the teacher never cancels.
type Log struct {
	mu     sync.Mutex
	lsn    uint64
	lastFlushed uint64
	wal    *wal.Log
	batch  *wal.Batch

	log      *logx.Logger
	stop     chan struct{}
	done     chan struct{}
}

// Open truncates any previous log under dir and starts a fresh one, then
// launches the background flusher at the given interval.
func Open(dir string, flushInterval time.Duration, log *logx.Logger) (*Log, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("auditlog: clearing stale log dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: preparing log dir: %w", err)
	}
	w, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("auditlog: opening wal at %s: %w", dir, err)
	}

	l := &Log{
		wal:   w,
		batch: &wal.Batch{},
		log:   log,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.flushLoop(flushInterval)
	return l, nil
}

// Record appends one entry to the pending batch; it does not touch disk
// itself, matching the teacher's write-buffers-now, flush-later split.
func (l *Log) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lsn++
	byt, err := json.Marshal(e)
	if err != nil {
		l.log.Warnf("auditlog: failed to marshal entry for gxid %d: %v", e.Gxid, err)
		return
	}
	l.batch.Write(l.lsn, byt)
}

func (l *Log) flushLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.flush()
		case <-l.stop:
			l.flush()
			return
		}
	}
}

func (l *Log) flush() {
	l.mu.Lock()
	if l.lsn == l.lastFlushed {
		l.mu.Unlock()
		return
	}
	batch := l.batch
	l.batch = &wal.Batch{}
	flushed := l.lsn
	l.mu.Unlock()

	if err := l.wal.WriteBatch(batch); err != nil {
		l.log.Errorf("auditlog: batch write failed: %v", err)
		return
	}
	l.mu.Lock()
	l.lastFlushed = flushed
	l.mu.Unlock()
}

// Close flushes any pending entries and stops the background goroutine.
func (l *Log) Close() error {
	close(l.stop)
	<-l.done
	return l.wal.Close()
}
