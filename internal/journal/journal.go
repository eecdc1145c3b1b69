// Package journal provides a bounded, rate-limited operational event log.
// Events go through a lock-free circular buffer to an async batched JSONL
// writer; under pressure the oldest events are dropped rather than blocking
// the tick loop.
package journal

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize      = 1024                   // Circular buffer size
	MaxEventsPerSec      = 10000                  // Global rate limit
	MaxEventsPerClient   = 100                    // Per-client rate limit per second
	BatchFlushSize       = 64                     // Events per batch write
	BatchFlushInterval   = 100 * time.Millisecond // How often to flush
	ClientLimiterCleanup = 5 * time.Minute        // Cleanup interval for client limiters
)

// Journal is the bounded event log.
type Journal struct {
	// Circular buffer (lock-free SPSC pattern)
	buffer    [EventBufferSize]Event
	writeHead uint64 // atomic - producer position
	readHead  uint64 // atomic - consumer position

	// Rate limiting so a misbehaving client cannot flood the log
	globalLimiter  *rate.Limiter
	clientLimiters sync.Map // map[string]*clientLimiterEntry

	// Async writer
	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// File output
	filePath string
	file     *os.File
	fileMu   sync.Mutex

	// Stats for monitoring
	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

// clientLimiterEntry tracks per-client rate limiting
type clientLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a new bounded journal
func New() *Journal {
	return &Journal{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the async writer goroutine
func (j *Journal) Start(filePath string) error {
	if j.running.Load() {
		return nil
	}

	j.filePath = filePath

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		j.file = file
	}

	j.running.Store(true)
	j.writerWg.Add(2)
	go j.writerLoop()
	go j.cleanupLoop()

	return nil
}

// Stop gracefully shuts down the journal
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		j.running.Store(false)
		close(j.stopChan)
		j.writerWg.Wait()

		j.fileMu.Lock()
		if j.file != nil {
			j.file.Close()
		}
		j.fileMu.Unlock()
	})
}

// Emit adds an event with rate limiting.
// Returns false if rate limited or the journal is not running.
func (j *Journal) Emit(event Event) bool {
	if !j.running.Load() {
		return false
	}

	if !j.globalLimiter.Allow() {
		atomic.AddUint64(&j.droppedCount, 1)
		return false
	}

	// Per-client rate limit (prevents a single sender from flooding)
	if event.ClientID != "" {
		limiter := j.getClientLimiter(event.ClientID)
		if !limiter.Allow() {
			atomic.AddUint64(&j.droppedCount, 1)
			return false
		}
	}

	// Acquire write slot in circular buffer
	head := atomic.AddUint64(&j.writeHead, 1)
	tail := atomic.LoadUint64(&j.readHead)

	// Buffer full: drop the oldest event (rolling window)
	if head-tail >= EventBufferSize {
		atomic.AddUint64(&j.readHead, 1)
		atomic.AddUint64(&j.droppedCount, 1)
	}

	event.Sequence = head
	idx := head % EventBufferSize
	j.buffer[idx] = event

	atomic.AddUint64(&j.totalCount, 1)
	return true
}

// Record is a convenience method to emit an event with automatic creation
func (j *Journal) Record(eventType EventType, tick int64, clientID string, payload interface{}) bool {
	return j.Emit(NewEvent(eventType, tick, clientID, payload))
}

// getClientLimiter returns/creates a per-client rate limiter
func (j *Journal) getClientLimiter(clientID string) *rate.Limiter {
	if entry, ok := j.clientLimiters.Load(clientID); ok {
		e := entry.(*clientLimiterEntry)
		e.lastUsed = time.Now()
		return e.limiter
	}

	entry := &clientLimiterEntry{
		limiter:  rate.NewLimiter(MaxEventsPerClient, MaxEventsPerClient/10),
		lastUsed: time.Now(),
	}
	actual, _ := j.clientLimiters.LoadOrStore(clientID, entry)
	return actual.(*clientLimiterEntry).limiter
}

// writerLoop batches and writes events to disk asynchronously
func (j *Journal) writerLoop() {
	defer j.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)

	for {
		select {
		case <-j.stopChan:
			// Final flush
			batch = j.collectBatch(batch[:0])
			if len(batch) > 0 {
				j.flushBatch(batch)
			}
			return

		case <-ticker.C:
			batch = j.collectBatch(batch[:0])
			if len(batch) > 0 {
				j.flushBatch(batch)
			}
		}
	}
}

// cleanupLoop removes stale client limiters to prevent memory leak
func (j *Journal) cleanupLoop() {
	defer j.writerWg.Done()

	ticker := time.NewTicker(ClientLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.cleanupClientLimiters()
		}
	}
}

func (j *Journal) cleanupClientLimiters() {
	cutoff := time.Now().Add(-ClientLimiterCleanup)
	j.clientLimiters.Range(func(key, value interface{}) bool {
		entry := value.(*clientLimiterEntry)
		if entry.lastUsed.Before(cutoff) {
			j.clientLimiters.Delete(key)
		}
		return true
	})
}

// collectBatch reads available events from the circular buffer
func (j *Journal) collectBatch(batch []Event) []Event {
	head := atomic.LoadUint64(&j.writeHead)
	tail := atomic.LoadUint64(&j.readHead)

	for i := tail; i < head && len(batch) < BatchFlushSize; i++ {
		idx := i % EventBufferSize
		batch = append(batch, j.buffer[idx])
	}

	if len(batch) > 0 {
		atomic.AddUint64(&j.readHead, uint64(len(batch)))
	}

	return batch
}

// flushBatch writes events to disk (append-only, newline-delimited JSON)
func (j *Journal) flushBatch(batch []Event) {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if j.file == nil {
		return
	}

	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		j.file.Write(data)
		j.file.Write([]byte("\n"))
	}
}

// GetStats returns counters for monitoring
func (j *Journal) GetStats() map[string]interface{} {
	head := atomic.LoadUint64(&j.writeHead)
	tail := atomic.LoadUint64(&j.readHead)

	return map[string]interface{}{
		"total":   atomic.LoadUint64(&j.totalCount),
		"dropped": atomic.LoadUint64(&j.droppedCount),
		"pending": head - tail,
		"running": j.running.Load(),
	}
}

// GetDroppedCount returns the number of dropped events
func (j *Journal) GetDroppedCount() uint64 {
	return atomic.LoadUint64(&j.droppedCount)
}

// GetTotalCount returns the total number of events processed
func (j *Journal) GetTotalCount() uint64 {
	return atomic.LoadUint64(&j.totalCount)
}
