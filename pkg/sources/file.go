package sources

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/zset"
)

// parseFunc decodes a file's content into facts.
type parseFunc func(b []byte) ([]fact, error)

type fact struct {
	E data.Eid
	V data.Value
}

// fileSource serves facts from a single file. Watch re-reads the file on
// change and emits the difference against the last delivered snapshot, so a
// row removed from the file becomes a retraction.
type fileSource struct {
	cfg   Config
	parse parseFunc
	log   logr.Logger
}

func newFileSource(log logr.Logger, cfg Config, parse parseFunc) *fileSource {
	return &fileSource{
		cfg:   cfg,
		parse: parse,
		log:   log.WithName("file-source").WithValues("path", cfg.Path, "attribute", cfg.Attribute),
	}
}

func (s *fileSource) String() string {
	return s.cfg.Kind + ":" + s.cfg.Path
}

func (s *fileSource) Pull(ctx context.Context) ([]data.TxData, error) {
	b, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	facts, err := s.parse(b)
	if err != nil {
		return nil, err
	}
	txs := make([]data.TxData, 0, len(facts))
	for _, f := range facts {
		txs = append(txs, data.Add(f.E, s.cfg.Attribute, f.V))
	}
	return txs, nil
}

func (s *fileSource) Watch(ctx context.Context, out chan<- []data.TxData) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close() //nolint:errcheck

	// Watch the directory, not the file: editors and atomic writers
	// replace the file, which would drop a direct watch.
	dir := filepath.Dir(s.cfg.Path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	prev := zset.New()
	if err := s.emit(ctx, prev, out); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.cfg.Path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			s.log.V(4).Info("file changed", "op", ev.Op.String())
			if err := s.emit(ctx, prev, out); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// emit reads the current snapshot, sends the delta against prev, and folds
// the delta into prev. A missing file is an empty snapshot: every retained
// fact gets retracted.
func (s *fileSource) emit(ctx context.Context, prev *zset.ZSet, out chan<- []data.TxData) error {
	next, err := s.snapshot()
	if err != nil {
		return err
	}
	delta := next.Copy()
	delta.Subtract(prev)
	if delta.IsZero() {
		return nil
	}

	txs := make([]data.TxData, 0, delta.UniqueCount())
	for _, entry := range delta.Entries() {
		e, _ := entry.Tuple[0].Eid()
		txs = append(txs, data.TxData{Diff: entry.Mult, E: e, A: s.cfg.Attribute, V: entry.Tuple[1]})
	}
	select {
	case out <- txs:
	case <-ctx.Done():
		return ctx.Err()
	}
	prev.Add(delta)
	return nil
}

func (s *fileSource) snapshot() (*zset.ZSet, error) {
	b, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return zset.New(), nil
		}
		return nil, err
	}
	facts, err := s.parse(b)
	if err != nil {
		return nil, err
	}
	z := zset.New()
	for _, f := range facts {
		z.AddTuple(data.Tuple{data.EidValue(f.E), f.V}, 1)
	}
	return z, nil
}
