package redis

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/kbukum/flowkit/adaptive"
	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// DefaultSinkHistory bounds the records kept per engine.
const DefaultSinkHistory = 1000

// StrategySink is an adaptive.Sink storing one Redis list per engine.
// Records are JSON encoded and appended; the list is trimmed to the most
// recent History entries. A hash per engine also keeps the latest record of
// every strategy name, so trimming never loses a strategy's current state.
type StrategySink struct {
	client  *Client
	History int64
}

var _ adaptive.Sink = (*StrategySink)(nil)

// NewStrategySink creates a StrategySink keeping DefaultSinkHistory records
// per engine.
func NewStrategySink(client *Client) *StrategySink {
	return &StrategySink{client: client, History: DefaultSinkHistory}
}

func (s *StrategySink) listKey(engine string) string {
	return s.client.key("strategies", engine)
}

func (s *StrategySink) latestKey(engine string) string {
	return s.client.key("strategies", engine+":latest")
}

func (s *StrategySink) Save(ctx context.Context, rec adaptive.StrategyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.StoreError("redis", err)
	}
	key := s.listKey(rec.Engine)
	pipe := s.client.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.HSet(ctx, s.latestKey(rec.Engine), rec.Name, data)
	if s.History > 0 {
		pipe.LTrim(ctx, key, -s.History, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StoreError("redis", err)
	}
	return nil
}

// Load returns the retained history, preceded by the latest record of any
// strategy whose entries were all trimmed.
func (s *StrategySink) Load(ctx context.Context, engine string) ([]adaptive.StrategyRecord, error) {
	raw, err := s.client.rdb.LRange(ctx, s.listKey(engine), 0, -1).Result()
	if err != nil {
		return nil, apperrors.StoreError("redis", err)
	}
	latest, err := s.client.rdb.HGetAll(ctx, s.latestKey(engine)).Result()
	if err != nil {
		return nil, apperrors.StoreError("redis", err)
	}

	history := s.decode(engine, raw)
	seen := make(map[string]bool, len(history))
	for _, rec := range history {
		seen[rec.Name] = true
	}
	var trimmed []string
	for name, item := range latest {
		if !seen[name] {
			trimmed = append(trimmed, item)
		}
	}
	out := s.decode(engine, trimmed)
	slices.SortStableFunc(out, func(a, b adaptive.StrategyRecord) int {
		return a.RecordedAt.Compare(b.RecordedAt)
	})
	return append(out, history...), nil
}

func (s *StrategySink) decode(engine string, raw []string) []adaptive.StrategyRecord {
	out := make([]adaptive.StrategyRecord, 0, len(raw))
	for _, item := range raw {
		var rec adaptive.StrategyRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.client.log.Warn("skipping unreadable strategy record", logger.Fields(
				"engine", engine,
				logger.FieldError, err.Error(),
			))
			continue
		}
		out = append(out, rec)
	}
	return out
}
