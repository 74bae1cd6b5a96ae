package history

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/cosmo-home/cosmocore/internal/bus"
	"github.com/cosmo-home/cosmocore/internal/entity"
)

// measurement is the series all entity transitions are written to.
const measurement = "entity_state"

// PointWriter is the slice of the InfluxDB client the recorder needs.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Logger matches the subset of slog used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Recorder consumes bus events and writes one point per transition.
type Recorder struct {
	writer PointWriter
	events *bus.Bus
	logger Logger

	recorded atomic.Uint64
}

// New creates a Recorder over the given event bus.
func New(writer PointWriter, events *bus.Bus, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{writer: writer, events: events, logger: logger}
}

// Run consumes bus events until ctx is cancelled. Blocks; run it in its
// own goroutine.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.events.Subscribe(bus.Filter{})
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			r.record(ev)
		}
	}
}

// record maps one transition onto the entity_state measurement.
// The value lands in a kind-specific field so numeric history stays
// queryable as numbers.
func (r *Recorder) record(ev entity.Event) {
	tags := map[string]string{
		"entity_id": ev.EntityID,
		"cause":     string(ev.Cause),
	}

	fields := map[string]any{
		"seq":       int64(ev.Seq),
		"available": ev.Available,
	}

	switch ev.Current.Kind {
	case entity.KindBool:
		fields["value_bool"] = ev.Current.Bool
	case entity.KindNumber:
		fields["value_num"] = ev.Current.Number
	case entity.KindEnum:
		fields["value_enum"] = ev.Current.Enum
	case entity.KindAttrs:
		attrs, err := json.Marshal(ev.Current.Attrs)
		if err != nil {
			r.logger.Warn("skipping unencodable attrs", "entity_id", ev.EntityID, "error", err)
			break
		}
		fields["value_attrs"] = string(attrs)
	case entity.KindNone:
		// Deregistration: record the tombstone with no value field.
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	r.writer.WritePoint(measurement, tags, fields, ts)
	r.recorded.Add(1)
}

// Recorded returns the number of transitions written so far.
func (r *Recorder) Recorded() uint64 {
	return r.recorded.Load()
}
