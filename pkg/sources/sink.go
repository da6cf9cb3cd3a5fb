package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/l7mp/reflow/pkg/data"
)

// Sink is the push half of the adapter capability: it consumes result
// deltas of a query and writes them to an external system.
type Sink interface {
	// Push writes a batch of result deltas.
	Push(ctx context.Context, diffs []data.ResultDiff) error
	fmt.Stringer
}

// SinkConfig selects and parameterizes a sink adapter.
type SinkConfig struct {
	// Attribute whose facts are streamed into the sink.
	Attribute data.Aid `json:"attribute" yaml:"attribute"`
	// Kind of the adapter, "csv" or "json".
	Kind string `json:"kind" yaml:"kind"`
	// Path of the output file.
	Path string `json:"path" yaml:"path"`
}

// NewSink creates a sink from its config.
func NewSink(log logr.Logger, cfg SinkConfig) (Sink, error) {
	switch cfg.Kind {
	case "csv":
		return newFileSink(log, cfg, formatCSV), nil
	case "json":
		return newFileSink(log, cfg, formatJSON), nil
	default:
		return nil, &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("unknown sink kind %q", cfg.Kind)}
	}
}

// formatFunc encodes a batch of result deltas for the output file.
type formatFunc func(diffs []data.ResultDiff) ([]byte, error)

// fileSink appends result deltas to a single file, one record per delta.
type fileSink struct {
	cfg    SinkConfig
	format formatFunc
	log    logr.Logger
}

func newFileSink(log logr.Logger, cfg SinkConfig, format formatFunc) *fileSink {
	return &fileSink{
		cfg:    cfg,
		format: format,
		log:    log.WithName("file-sink").WithValues("path", cfg.Path, "attribute", cfg.Attribute),
	}
}

func (s *fileSink) String() string {
	return s.cfg.Kind + ":" + s.cfg.Path
}

// Push appends the formatted batch. The file is reopened per batch so an
// interrupted run never loses more than the current batch.
func (s *fileSink) Push(ctx context.Context, diffs []data.ResultDiff) error {
	if len(diffs) == 0 {
		return nil
	}
	b, err := s.format(diffs)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	s.log.V(4).Info("batch written", "diffs", len(diffs))
	return f.Close()
}

// formatCSV writes one record per delta: time, diff, then the tuple values
// in display form.
func formatCSV(diffs []data.ResultDiff) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, d := range diffs {
		rec := make([]string, 0, len(d.Tuple)+2)
		rec = append(rec,
			strconv.FormatUint(uint64(d.Time), 10),
			strconv.Itoa(d.Diff))
		for _, v := range d.Tuple {
			rec = append(rec, v.String())
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// formatJSON writes one wire-form result object per line.
func formatJSON(diffs []data.ResultDiff) ([]byte, error) {
	var buf bytes.Buffer
	for _, d := range diffs {
		b, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
