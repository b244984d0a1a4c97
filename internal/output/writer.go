package output

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"chipscore/internal/logging"
	"chipscore/internal/services"
)

// Writer appends classification records in deterministic job-key order no
// matter what order lanes finish in. It knows the full key set up front; a
// record for key K is committed only after every key below K has resolved,
// where a failed job resolves its key without producing a record.
//
// A single goroutine owns the file, so appends are serialized and a record
// is always written whole. The records file is guarded by an advisory lock
// against concurrent runs.
type Writer struct {
	recordsPath string
	auditPath   string
	retries     int
	logger      *slog.Logger

	lock     *flock.Flock
	file     *os.File
	order    []string
	position map[string]int

	requests chan request
	done     chan struct{}

	// mutated only by the writer goroutine; mu lets accessors read the
	// state while a run is in flight.
	mu       sync.Mutex
	next     int
	resolved map[string]bool
	pending  map[string]*ClassificationRecord
	written  int
	failed   int
}

type request struct {
	key    string
	record *ClassificationRecord
	reply  chan error
}

// NewWriter opens the records file for appending and locks it against other
// runs. keys is the complete set of job keys this run will resolve.
func NewWriter(recordsPath, auditPath string, keys []string, retries int, logger *slog.Logger) (*Writer, error) {
	lock := flock.New(recordsPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "persisting", "lock records file", "", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrPersistence, "persisting", "lock records file",
			fmt.Sprintf("%s is locked by another run", recordsPath), nil)
	}

	file, err := os.OpenFile(recordsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, services.Wrap(services.ErrPersistence, "persisting", "open records file", "", err)
	}

	order := append([]string(nil), keys...)
	sort.Strings(order)
	position := make(map[string]int, len(order))
	for i, key := range order {
		position[key] = i
	}

	w := &Writer{
		recordsPath: recordsPath,
		auditPath:   auditPath,
		retries:     retries,
		logger:      logging.NewComponentLogger(logger, "output"),
		lock:        lock,
		file:        file,
		order:       order,
		position:    position,
		requests:    make(chan request),
		done:        make(chan struct{}),
		resolved:    make(map[string]bool, len(order)),
		pending:     make(map[string]*ClassificationRecord, len(order)),
	}
	go w.loop()
	return w, nil
}

// Commit resolves a key with its record. The record lands on disk once all
// lower keys have resolved; Commit's error covers everything flushed by
// this call.
func (w *Writer) Commit(key string, record ClassificationRecord) error {
	record.stamp()
	return w.send(request{key: key, record: &record})
}

// Resolve marks a failed key so keys above it can flush. No record is
// written for the key.
func (w *Writer) Resolve(key string) error {
	return w.send(request{key: key})
}

func (w *Writer) send(req request) error {
	req.reply = make(chan error, 1)
	select {
	case w.requests <- req:
		return <-req.reply
	case <-w.done:
		return services.Wrap(services.ErrPersistence, "persisting", "append record", "writer closed", nil)
	}
}

// Close flushes whatever is flushable, releases the lock, and reports keys
// that never resolved.
func (w *Writer) Close() error {
	close(w.done)
	err := w.file.Close()
	if unlockErr := w.lock.Unlock(); err == nil {
		err = unlockErr
	}
	if err != nil {
		return services.Wrap(services.ErrPersistence, "persisting", "close records file", "", err)
	}
	return nil
}

// Written returns how many records reached the file.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *Writer) loop() {
	for {
		select {
		case <-w.done:
			return
		case req := <-w.requests:
			req.reply <- w.handle(req)
		}
	}
}

func (w *Writer) handle(req request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, known := w.position[req.key]; !known {
		return services.Wrap(services.ErrPersistence, "persisting", "resolve key",
			fmt.Sprintf("key %q is not part of this run", req.key), nil)
	}
	if w.resolved[req.key] {
		return services.Wrap(services.ErrPersistence, "persisting", "resolve key",
			fmt.Sprintf("key %q resolved twice", req.key), nil)
	}
	w.resolved[req.key] = true
	if req.record != nil {
		w.pending[req.key] = req.record
	} else {
		w.failed++
	}
	return w.flushReady()
}

// flushReady appends every record whose turn has come.
func (w *Writer) flushReady() error {
	bytesWritten := 0
	records := 0
	for w.next < len(w.order) {
		key := w.order[w.next]
		if !w.resolved[key] {
			break
		}
		if record := w.pending[key]; record != nil {
			n, err := w.append(record)
			if err != nil {
				return err
			}
			delete(w.pending, key)
			bytesWritten += n
			records++
			w.written++
		}
		w.next++
	}
	if records > 0 {
		w.audit(bytesWritten, records)
	}
	return nil
}

func (w *Writer) append(record *ClassificationRecord) (int, error) {
	line, err := json.Marshal(record)
	if err != nil {
		return 0, services.Wrap(services.ErrPersistence, "persisting", "encode record", "", err)
	}
	line = append(line, '\n')

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
			w.logger.Warn("retrying record append",
				logging.String(logging.FieldJobKey, record.Key),
				logging.Int("attempt", attempt),
				logging.Error(lastErr),
			)
		}
		if _, lastErr = w.file.Write(line); lastErr == nil {
			return len(line), nil
		}
	}
	return 0, services.Wrap(services.ErrPersistence, "persisting", "append record",
		fmt.Sprintf("record for %s failed after %d attempts", record.Key, w.retries+1), lastErr)
}

// auditEntry is one line of the audit trail.
type auditEntry struct {
	ID      string `json:"id"`
	Time    string `json:"time"`
	Action  string `json:"action"`
	Actor   string `json:"actor"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Records int    `json:"records"`
}

// audit appends one trail entry. Audit failures are logged, never fatal;
// losing the trail must not lose the records.
func (w *Writer) audit(bytes, records int) {
	if w.auditPath == "" {
		return
	}
	entry := auditEntry{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC().Format(time.RFC3339),
		Action:  "append",
		Actor:   "pipeline",
		Path:    w.recordsPath,
		Bytes:   bytes,
		Records: records,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		w.logger.Warn("audit entry encode failed", logging.Error(err))
		return
	}
	f, err := os.OpenFile(w.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.logger.Warn("audit trail unavailable", logging.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		w.logger.Warn("audit append failed", logging.Error(err))
	}
}

// Unresolved returns the keys that never resolved, in order.
func (w *Writer) Unresolved() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var keys []string
	for _, key := range w.order[w.next:] {
		if !w.resolved[key] {
			keys = append(keys, key)
		}
	}
	return keys
}
