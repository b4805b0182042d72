package adaptive

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/kbukum/flowkit/errors"
)

// Record statuses.
const (
	StatusProposed  = "proposed"
	StatusProbation = "probation"
	StatusActive    = "active"
	StatusRejected  = "rejected"
	StatusRetired   = "retired"
)

// StrategyRecord is the persisted form of a strategy event.
type StrategyRecord struct {
	Engine      string          `yaml:"engine" json:"engine"`
	Kind        string          `yaml:"kind" json:"kind"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Pattern     string          `yaml:"pattern" json:"pattern"`
	Status      string          `yaml:"status" json:"status"`
	Params      map[string]any  `yaml:"params" json:"params"`
	Metrics     MetricsSnapshot `yaml:"metrics" json:"metrics"`
	RecordedAt  time.Time       `yaml:"recorded_at" json:"recorded_at"`
}

// Sink persists strategy events for audit and for reuse across restarts.
// Writes are advisory: engines log and ignore Save errors.
type Sink interface {
	Save(ctx context.Context, rec StrategyRecord) error
	// Load returns every record saved for engine, oldest first.
	Load(ctx context.Context, engine string) ([]StrategyRecord, error)
}

// latestByName keeps the last record per strategy name, preserving first-seen order.
func latestByName(recs []StrategyRecord) []StrategyRecord {
	idx := make(map[string]int, len(recs))
	var out []StrategyRecord
	for _, r := range recs {
		if i, ok := idx[r.Name]; ok {
			out[i] = r
			continue
		}
		idx[r.Name] = len(out)
		out = append(out, r)
	}
	return out
}

// MemorySink keeps records in process.
type MemorySink struct {
	mu      sync.Mutex
	records map[string][]StrategyRecord
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string][]StrategyRecord)}
}

func (s *MemorySink) Save(_ context.Context, rec StrategyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Engine] = append(s.records[rec.Engine], rec)
	return nil
}

func (s *MemorySink) Load(_ context.Context, engine string) ([]StrategyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StrategyRecord(nil), s.records[engine]...), nil
}

// FileSink appends records as YAML documents to a file.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a FileSink writing to path. The file is created on
// first Save.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the file path.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Save(_ context.Context, rec StrategyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperrors.StoreError("file", err)
	}
	defer f.Close()

	out, err := yaml.Marshal(rec)
	if err != nil {
		return apperrors.StoreError("file", err)
	}
	if _, err := f.Write(append([]byte("---\n"), out...)); err != nil {
		return apperrors.StoreError("file", err)
	}
	return nil
}

func (s *FileSink) Load(_ context.Context, engine string) ([]StrategyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreError("file", err)
	}
	defer f.Close()

	var out []StrategyRecord
	dec := yaml.NewDecoder(f)
	for {
		var rec StrategyRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.StoreError("file", err)
		}
		if rec.Engine == engine {
			out = append(out, rec)
		}
	}
	return out, nil
}
