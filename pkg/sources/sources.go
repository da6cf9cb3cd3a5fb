// Package sources feeds external data into the engine as fact transactions.
// A source serves one attribute; it can be pulled for a one-shot snapshot or
// watched for a live delta stream.
package sources

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/reflow/pkg/data"
)

// Source is a generic fact feed. It dispatches to the appropriate adapter
// based on the configured kind.
type Source interface {
	// Pull reads the current fact set as a batch of insertions.
	Pull(ctx context.Context) ([]data.TxData, error)
	// Watch streams fact deltas to out until the context is cancelled.
	// The first batch is the full current set; later batches carry the
	// difference against the previously delivered state, retractions
	// included.
	Watch(ctx context.Context, out chan<- []data.TxData) error
	fmt.Stringer
}

// Config selects and parameterizes a source adapter.
type Config struct {
	// Attribute the facts are asserted under.
	Attribute data.Aid `json:"attribute" yaml:"attribute"`
	// Kind of the adapter, "csv" or "json".
	Kind string `json:"kind" yaml:"kind"`
	// Path of the backing file.
	Path string `json:"path" yaml:"path"`
}

// New creates a source from its config.
func New(log logr.Logger, cfg Config) (Source, error) {
	switch cfg.Kind {
	case "csv":
		return newFileSource(log, cfg, parseCSV), nil
	case "json":
		return newFileSource(log, cfg, parseJSON), nil
	default:
		return nil, &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("unknown source kind %q", cfg.Kind)}
	}
}
