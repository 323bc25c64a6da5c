package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratadb-labs/strata-core-sub008/pkg/errs"
	"github.com/stratadb-labs/strata-core-sub008/pkg/log"
	"github.com/stratadb-labs/strata-core-sub008/pkg/metrics"
)

// Mode selects the durability policy.
type Mode int

const (
	Strict Mode = iota
	Batched
	Async
)

// Options configures a WAL at Open.
type Options struct {
	Mode Mode

	// Batched mode: fsync at the earlier of BatchSize pending commits or
	// BatchInterval since the oldest pending one.
	BatchSize     int
	BatchInterval time.Duration

	// Async mode: the background sync goroutine's own pace.
	AsyncInterval time.Duration

	// DisableBackgroundWorker disables the batched/async background goroutine,
	// useful for tests that want to control flushing with explicit Flush
	// calls only.
	DisableBackgroundWorker bool
}

func (o Options) normalized() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = 5 * time.Millisecond
	}
	if o.AsyncInterval <= 0 {
		o.AsyncInterval = 50 * time.Millisecond
	}
	return o
}

// WAL is the append-only log file plus the single-writer mutex that frames
// whole transactions atomically.
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	path string
	opts Options

	pendingSinceFlush int
	oldestPending     time.Time

	closeCh chan struct{}
	doneCh  chan struct{}

	logger zerolog.Logger
}

// Open creates or opens the log file at path with the given durability
// options.
func Open(path string, opts Options) (*WAL, error) {
	opts = opts.normalized()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	w := &WAL{
		f:       f,
		path:    path,
		opts:    opts,
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  log.WithComponent("wal"),
	}
	if opts.Mode != Strict && !opts.DisableBackgroundWorker {
		go w.backgroundFlusher()
	} else {
		close(w.doneCh)
	}
	return w, nil
}

// encodeRecord produces the on-disk bytes for one record.
func encodeRecord(r Record) []byte {
	body := make([]byte, 0, 1+len(r.Payload))
	body = append(body, byte(r.Type))
	body = append(body, r.Payload...)
	crc := crc32.ChecksumIEEE(body)

	length := uint32(len(body) + 4)
	out := make([]byte, 4+len(body)+4)
	binary.BigEndian.PutUint32(out[0:4], length)
	copy(out[4:], body)
	binary.BigEndian.PutUint32(out[4+len(body):], crc)
	return out
}

// AppendRecords writes records contiguously under the writer mutex and then
// honors the configured durability mode. The whole slice is treated as one
// framing unit (typically BeginTx...CommitTx/AbortTx).
func (w *WAL) AppendRecords(records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	appendTimer := metrics.NewTimer()
	defer appendTimer.ObserveDuration(metrics.WalAppendDuration)

	var bytesWritten int
	for _, r := range records {
		enc := encodeRecord(r)
		if _, err := w.f.Write(enc); err != nil {
			return errs.Wrap(errs.KindDurabilityWrite, "wal.AppendRecords", "", fmt.Errorf("%w: %v", errs.DurabilityWrite, err))
		}
		bytesWritten += len(enc)
	}
	metrics.WalBytesWrittenTotal.Add(float64(bytesWritten))

	switch w.opts.Mode {
	case Strict:
		if err := w.syncLocked(); err != nil {
			return errs.Wrap(errs.KindDurabilityFsync, "wal.AppendRecords", "", fmt.Errorf("%w: %v", errs.DurabilityFsync, err))
		}
	case Batched:
		if w.pendingSinceFlush == 0 {
			w.oldestPending = time.Now()
		}
		w.pendingSinceFlush++
		if w.pendingSinceFlush >= w.opts.BatchSize {
			if err := w.flushLocked(); err != nil {
				return err
			}
		}
	case Async:
		// No blocking; the background goroutine fsyncs on its own pace.
	}
	return nil
}

// Flush forces pending records to stable storage regardless of mode.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.syncLocked(); err != nil {
		return errs.Wrap(errs.KindDurabilityFsync, "wal.Flush", "", fmt.Errorf("%w: %v", errs.DurabilityFsync, err))
	}
	w.pendingSinceFlush = 0
	return nil
}

// syncLocked fsyncs the log file, observing WalFsyncDuration. Callers hold w.mu.
func (w *WAL) syncLocked() error {
	timer := metrics.NewTimer()
	err := w.f.Sync()
	timer.ObserveDuration(metrics.WalFsyncDuration)
	return err
}

func (w *WAL) backgroundFlusher() {
	defer close(w.doneCh)
	interval := w.opts.BatchInterval
	if w.opts.Mode == Async {
		interval = w.opts.AsyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			due := w.opts.Mode == Async ||
				(w.pendingSinceFlush > 0 && time.Since(w.oldestPending) >= w.opts.BatchInterval)
			if due {
				if err := w.flushLocked(); err != nil {
					w.logger.Error().Err(err).Msg("background wal flush failed")
				}
			}
			w.mu.Unlock()
		case <-w.closeCh:
			return
		}
	}
}

// Close flushes pending records synchronously (the spec's recommended
// behavior for batched/async Close, documented as an explicit decision in
// DESIGN.md) and closes the file.
func (w *WAL) Close() error {
	close(w.closeCh)
	<-w.doneCh
	if err := w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Path returns the log file path, for diagnostics and tests.
func (w *WAL) Path() string { return w.path }
