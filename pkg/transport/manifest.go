package transport

import (
	"context"
	"os"
	"sort"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/plan"
	"github.com/l7mp/reflow/pkg/server"
	"github.com/l7mp/reflow/pkg/sources"
	"github.com/l7mp/reflow/pkg/store"
)

// Manifest declares the attribute schema and the external sources and sinks
// an engine serves, loaded from YAML at startup.
type Manifest struct {
	Attributes map[data.Aid]store.Config `yaml:"attributes"`
	Sources    []sources.Config          `yaml:"sources"`
	Sinks      []sources.SinkConfig      `yaml:"sinks"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Apply creates the declared attributes, starts a watcher goroutine per
// source and a pump goroutine per sink. Each source batch is transacted one
// time unit past the current frontier and the frontier advanced over it, so
// file edits surface as result deltas without any client involvement. Each
// sink subscribes to a query over its attribute and pushes the delta stream
// out.
func (m *Manifest) Apply(ctx context.Context, e *server.Engine, log logr.Logger) error {
	names := make([]data.Aid, 0, len(m.Attributes))
	for name := range m.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.CreateAttribute(ctx, name, m.Attributes[name]); err != nil {
			return err
		}
	}

	for _, cfg := range m.Sinks {
		snk, err := sources.NewSink(log, cfg)
		if err != nil {
			return err
		}
		h, err := e.Register(ctx, "sink/"+cfg.Attribute,
			&plan.Match{E: "?e", A: cfg.Attribute, V: "?v"}, nil)
		if err != nil {
			return err
		}
		ch, err := e.Subscribe(ctx, h, 0)
		if err != nil {
			return err
		}
		go func() {
			for d := range ch {
				batch := []data.ResultDiff{d}
			more:
				for {
					select {
					case next, ok := <-ch:
						if !ok {
							break more
						}
						batch = append(batch, next)
					default:
						break more
					}
				}
				if err := snk.Push(ctx, batch); err != nil {
					log.Error(err, "sink push failed", "sink", snk.String())
					return
				}
			}
		}()
	}

	for _, cfg := range m.Sources {
		src, err := sources.New(log, cfg)
		if err != nil {
			return err
		}
		out := make(chan []data.TxData, 16)
		go func() {
			if err := src.Watch(ctx, out); err != nil && ctx.Err() == nil {
				log.Error(err, "source watch failed", "source", src.String())
			}
			close(out)
		}()
		go func() {
			for batch := range out {
				t, err := e.Frontier(ctx)
				if err != nil {
					return
				}
				t++
				if err := e.Transact(ctx, batch, t); err != nil {
					log.Error(err, "source transaction failed", "source", src.String())
					return
				}
				if err := e.AdvanceTo(ctx, t); err != nil {
					log.Error(err, "frontier advance failed", "source", src.String())
					return
				}
			}
		}()
	}
	return nil
}
