// Package server implements the query session manager: a single engine
// goroutine owns the store, the operator graph and all registrations, and
// every mutation enters through one ordered command channel. That channel is
// the control-delta stream: every observer sees catalog changes at the same
// position in the same order, so there is no registry lock.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/reflow/pkg/compiler"
	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/dbsp"
	"github.com/l7mp/reflow/pkg/plan"
	"github.com/l7mp/reflow/pkg/store"
	"github.com/l7mp/reflow/pkg/zset"
)

// DefaultSubscriberBuffer bounds how far a subscriber may fall behind before
// it stalls the engine loop, which in turn stops the frontier from
// advancing. That stall is the backpressure bound on memory.
const DefaultSubscriberBuffer = 256

const errorBuffer = 64

// Handle identifies one live, client-registered query. Distinct handles may
// alias one compiled subgraph.
type Handle struct {
	ID   uuid.UUID
	Name string
	Vars []plan.Var
}

// ErrorEvent is delivered on the engine's error channel for compile and
// runtime failures tied to a query, and for fatal conditions with an empty
// query name.
type ErrorEvent struct {
	Query    string `json:"query"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Engine is the reactive query engine. All exported methods are safe for
// concurrent use; they funnel into the engine goroutine.
type Engine struct {
	log   logr.Logger
	store *store.Store
	graph *dbsp.Graph
	comp  *compiler.Compiler
	exec  *dbsp.Executor

	cmds chan command
	errs chan ErrorEvent
	done chan struct{}

	// Loop-owned state.
	queries map[uuid.UUID]*registration
	fatal   error
}

type registration struct {
	handle Handle
	cq     *compiler.CompiledQuery
	subs   map[uuid.UUID]chan data.ResultDiff
}

type command struct {
	run   func() (any, error)
	reply chan result
}

type result struct {
	val any
	err error
}

// New creates an engine over an empty store and graph.
func New(log logr.Logger) *Engine {
	graph := dbsp.NewGraph(log)
	return &Engine{
		log:     log.WithName("engine"),
		store:   store.New(log),
		graph:   graph,
		comp:    compiler.New(graph, log),
		exec:    dbsp.NewExecutor(log),
		cmds:    make(chan command),
		errs:    make(chan ErrorEvent, errorBuffer),
		done:    make(chan struct{}),
		queries: map[uuid.UUID]*registration{},
	}
}

// Run drives the engine loop until the context is cancelled or a fatal
// condition aborts it.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.teardownAll()
			return ctx.Err()
		case cmd := <-e.cmds:
			val, err := cmd.run()
			cmd.reply <- result{val: val, err: err}
			if e.fatal != nil {
				e.teardownAll()
				return e.fatal
			}
		}
	}
}

// Errors returns the engine's error channel. Events are dropped when the
// consumer falls more than the buffer behind.
func (e *Engine) Errors() <-chan ErrorEvent { return e.errs }

// Done closes when the engine loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) call(ctx context.Context, run func() (any, error)) (any, error) {
	cmd := command{run: run, reply: make(chan result, 1)}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return nil, &data.Error{Category: data.ErrFatal, Message: "engine stopped"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.val, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateAttribute declares an attribute with its input semantics.
func (e *Engine) CreateAttribute(ctx context.Context, name data.Aid, cfg store.Config) error {
	_, err := e.call(ctx, func() (any, error) {
		return nil, e.store.CreateAttribute(name, cfg)
	})
	return err
}

// Transact stages a batch at the given time. The batch becomes visible when
// the frontier passes it.
func (e *Engine) Transact(ctx context.Context, txs []data.TxData, t data.Time) error {
	_, err := e.call(ctx, func() (any, error) {
		err := e.store.Apply(txs, t)
		if isFatal(err) {
			e.abort(err)
		}
		return nil, err
	})
	return err
}

// AdvanceTo moves the frontier, flushing due batches through every live
// query and emitting the result deltas to subscribers.
func (e *Engine) AdvanceTo(ctx context.Context, t data.Time) error {
	_, err := e.call(ctx, func() (any, error) {
		return nil, e.advanceTo(t)
	})
	return err
}

// Frontier returns the engine's current logical time.
func (e *Engine) Frontier(ctx context.Context) (data.Time, error) {
	v, err := e.call(ctx, func() (any, error) {
		return e.store.Frontier(), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(data.Time), nil
}

// Register compiles and installs a query. A structurally identical plan
// reuses the existing subgraph with its refcount bumped; a fresh subgraph is
// bootstrapped from the store so its integrated state matches the frontier.
func (e *Engine) Register(ctx context.Context, name string, p plan.Node, rules []*plan.Rule) (Handle, error) {
	v, err := e.call(ctx, func() (any, error) {
		return e.register(name, p, rules)
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

// Subscribe opens an independently paced result stream for a handle. The
// current result set arrives first as positive deltas at the frontier time,
// followed by live deltas in time order. The channel closes on unregister.
func (e *Engine) Subscribe(ctx context.Context, h Handle, buffer int) (<-chan data.ResultDiff, error) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	v, err := e.call(ctx, func() (any, error) {
		return e.subscribe(h, buffer)
	})
	if err != nil {
		return nil, err
	}
	return v.(chan data.ResultDiff), nil
}

// Unregister drops a handle: its subscribers receive a retraction of every
// current result and their channels close. The compiled subgraph is torn
// down at refcount zero unless a live rule still depends on it, in which
// case teardown is deferred until that dependency is also released.
func (e *Engine) Unregister(ctx context.Context, h Handle) error {
	_, err := e.call(ctx, func() (any, error) {
		return nil, e.unregister(h)
	})
	return err
}

func (e *Engine) register(name string, p plan.Node, rules []*plan.Rule) (Handle, error) {
	cq, err := e.comp.CompileQuery(name, p, rules, e.store)
	if err != nil {
		e.report(name, err)
		return Handle{}, err
	}

	if cq.Bootstrap != nil {
		inj := map[dbsp.NodeID]*zset.ZSet{}
		for id, aid := range cq.FreshAttrs {
			coll, err := e.store.Collection(aid)
			if err != nil {
				return Handle{}, err
			}
			inj[id] = coll
		}
		freshSet := map[dbsp.NodeID]bool{}
		for _, n := range cq.Fresh {
			freshSet[n.ID] = true
		}
		for _, n := range cq.Fresh {
			for _, in := range n.Inputs {
				if !freshSet[in.ID] && inj[in.ID] == nil {
					inj[in.ID] = in.Out()
				}
			}
		}
		if _, err := e.exec.Step(cq.Bootstrap, inj); err != nil {
			e.report(name, err)
			e.comp.Forget(e.graph.Release(cq.Output))
			return Handle{}, err
		}
	}

	h := Handle{ID: uuid.New(), Name: name, Vars: cq.Vars}
	e.queries[h.ID] = &registration{
		handle: h,
		cq:     cq,
		subs:   map[uuid.UUID]chan data.ResultDiff{},
	}
	e.log.V(1).Info("query registered", "name", name, "id", h.ID,
		"refs", cq.Output.Refs())
	return h, nil
}

func (e *Engine) subscribe(h Handle, buffer int) (chan data.ResultDiff, error) {
	reg, ok := e.queries[h.ID]
	if !ok {
		return nil, &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("unknown query handle %s", h.ID)}
	}
	// The initial snapshot must fit the buffer, there is no consumer yet.
	entries := reg.cq.Output.Out().Entries()
	if buffer < len(entries)+1 {
		buffer = len(entries) + DefaultSubscriberBuffer
	}
	ch := make(chan data.ResultDiff, buffer)
	now := e.store.Frontier()
	for _, entry := range entries {
		ch <- data.ResultDiff{Tuple: entry.Tuple, Time: now, Diff: entry.Mult}
	}
	reg.subs[uuid.New()] = ch
	return ch, nil
}

func (e *Engine) unregister(h Handle) error {
	reg, ok := e.queries[h.ID]
	if !ok {
		return &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("unknown query handle %s", h.ID)}
	}
	delete(e.queries, h.ID)

	// Retraction-all control delta: the handle's subscribers see the
	// result set drain before their streams close.
	now := e.store.Frontier()
	for _, ch := range reg.subs {
		for _, entry := range reg.cq.Output.Out().Entries() {
			ch <- data.ResultDiff{Tuple: entry.Tuple, Time: now, Diff: -entry.Mult}
		}
		close(ch)
	}

	removed := e.graph.Release(reg.cq.Output)
	e.comp.Forget(removed)
	_, rules := e.comp.SweepRules()
	if len(rules) > 0 {
		e.log.V(1).Info("rules torn down", "rules", rules)
	}
	e.log.V(1).Info("query unregistered", "name", reg.handle.Name,
		"removed", len(removed))
	return nil
}

func (e *Engine) advanceTo(t data.Time) error {
	deltas, err := e.store.AdvanceTo(t)
	if err != nil {
		if isFatal(err) {
			e.abort(err)
		}
		return err
	}

	inj := map[dbsp.NodeID]*zset.ZSet{}
	for aid, d := range deltas {
		if src, ok := e.comp.AttrSource(aid); ok {
			inj[src.ID] = d
		}
	}
	if len(inj) == 0 {
		return nil
	}

	acc, stepErr := e.exec.Step(e.comp.Schedule(), inj)
	if stepErr != nil {
		// Queries depending on the failed node are torn down; everyone
		// else still gets this advance's deltas below, keeping their
		// streams consistent with the integrated state.
		stepErr = e.handleStepError(stepErr)
		if e.fatal != nil {
			return stepErr
		}
	}

	for _, reg := range e.queries {
		d, ok := acc[reg.cq.Output.ID]
		if !ok || d.IsZero() {
			continue
		}
		for _, ch := range reg.subs {
			for _, entry := range d.Entries() {
				ch <- data.ResultDiff{Tuple: entry.Tuple, Time: t, Diff: entry.Mult}
			}
		}
	}
	return stepErr
}

// handleStepError isolates a runtime failure to the queries depending on
// the failing operator: they are torn down and reported, everything else
// keeps running. Non-runtime errors abort the engine.
func (e *Engine) handleStepError(err error) error {
	var de *data.Error
	if !errors.As(err, &de) || de.Category != data.ErrRuntime {
		e.abort(err)
		return err
	}
	var ne *dbsp.NodeError
	if !errors.As(err, &ne) {
		e.abort(err)
		return err
	}
	// Feedback arcs close recursive cycles outside the input edges, so a
	// rule output reached through one still counts as dependent.
	feed := map[dbsp.NodeID]*dbsp.Node{}
	for _, st := range e.comp.Schedule().Strata {
		for _, arc := range st.Feedback {
			feed[arc.Source.ID] = arc.Output
		}
	}
	for id, reg := range e.queries {
		if !dependsOn(reg.cq.Output, ne.ID, feed, map[dbsp.NodeID]bool{}) {
			continue
		}
		e.report(reg.handle.Name, err)
		delete(e.queries, id)
		for _, ch := range reg.subs {
			close(ch)
		}
		e.comp.Forget(e.graph.Release(reg.cq.Output))
	}
	e.comp.SweepRules()
	return err
}

// dependsOn reports whether the node transitively reads from id, following
// input edges and the feedback arcs of recursive components.
func dependsOn(n *dbsp.Node, id dbsp.NodeID, feed map[dbsp.NodeID]*dbsp.Node, seen map[dbsp.NodeID]bool) bool {
	if n.ID == id {
		return true
	}
	if seen[n.ID] {
		return false
	}
	seen[n.ID] = true
	for _, in := range n.Inputs {
		if dependsOn(in, id, feed, seen) {
			return true
		}
	}
	if out, ok := feed[n.ID]; ok && dependsOn(out, id, feed, seen) {
		return true
	}
	return false
}

// abort records a fatal condition: there is no local repair for a progress
// violation, continuing would risk silently incorrect state.
func (e *Engine) abort(err error) {
	e.log.Error(err, "fatal condition, aborting")
	e.report("", &data.Error{Category: data.ErrFatal, Message: err.Error()})
	e.fatal = err
}

func (e *Engine) report(query string, err error) {
	ev := ErrorEvent{Query: query, Category: data.ErrRuntime, Message: err.Error()}
	var de *data.Error
	if errors.As(err, &de) {
		ev.Category = de.Category
	}
	select {
	case e.errs <- ev:
	default:
		e.log.Info("error channel full, event dropped", "query", query)
	}
}

func (e *Engine) teardownAll() {
	for _, reg := range e.queries {
		for _, ch := range reg.subs {
			close(ch)
		}
	}
	e.queries = map[uuid.UUID]*registration{}
}

func isFatal(err error) bool {
	var de *data.Error
	return errors.As(err, &de) && de.Category == data.ErrFatal
}
