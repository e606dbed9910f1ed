package stats

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Token brackets one measured operation. It is handed out by BeginMeasure
// and must be passed back to EndMeasure.
type Token struct {
	start time.Time
}

// Aggregate accumulates timings for one measurement id.
type Aggregate struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"minNs"`
	Max   time.Duration `json:"maxNs"`
	Total time.Duration `json:"totalNs"`
}

// Mean returns the average duration of the recorded measurements.
func (a Aggregate) Mean() time.Duration {
	if a.Count == 0 {
		return 0
	}
	return a.Total / time.Duration(a.Count)
}

// Collector gathers performance measurements across all stations and
// periodically flushes them to a JSON file.
type Collector struct {
	mu      sync.Mutex
	entries map[string]*Aggregate

	filePath      string
	flushInterval time.Duration
	stopChannel   chan struct{}
	stopOnce      sync.Once
}

// NewCollector creates a collector. An empty filePath disables flushing to
// disk; measurements are still aggregated in memory.
func NewCollector(filePath string, flushInterval time.Duration) *Collector {
	return &Collector{
		entries:       make(map[string]*Aggregate),
		filePath:      filePath,
		flushInterval: flushInterval,
		stopChannel:   make(chan struct{}),
	}
}

// BeginMeasure starts a measurement for the given id.
func (c *Collector) BeginMeasure(id string) Token {
	return Token{start: time.Now()}
}

// EndMeasure completes a measurement started with BeginMeasure.
func (c *Collector) EndMeasure(id string, token Token) {
	elapsed := time.Since(token.start)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		entry = &Aggregate{Min: elapsed, Max: elapsed}
		c.entries[id] = entry
	}
	entry.Count++
	entry.Total += elapsed
	if elapsed < entry.Min {
		entry.Min = elapsed
	}
	if elapsed > entry.Max {
		entry.Max = elapsed
	}
}

// Snapshot returns a copy of the current aggregates.
func (c *Collector) Snapshot() map[string]Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[string]Aggregate, len(c.entries))
	for id, entry := range c.entries {
		snapshot[id] = *entry
	}
	return snapshot
}

// Start launches the periodic flusher. It returns immediately; flushing
// stops when Stop is called.
func (c *Collector) Start() {
	if c.filePath == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Flush(); err != nil {
					logrus.WithError(err).Error("Failed to flush performance statistics")
				}
			case <-c.stopChannel:
				return
			}
		}
	}()
}

// Stop terminates the flusher and writes a final snapshot.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChannel)
	})
	if c.filePath == "" {
		return
	}
	if err := c.Flush(); err != nil {
		logrus.WithError(err).Error("Failed to write final performance statistics")
	}
}

// Flush writes the current aggregates to the statistics file.
func (c *Collector) Flush() error {
	snapshot := c.Snapshot()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0o644)
}
