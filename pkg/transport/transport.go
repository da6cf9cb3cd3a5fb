// Package transport exposes the engine over a JSON websocket protocol. Each
// connection is a session: queries registered on it are torn down when it
// closes.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/plan"
	"github.com/l7mp/reflow/pkg/server"
	"github.com/l7mp/reflow/pkg/store"
)

const outboundBuffer = 512

// Server upgrades HTTP connections and speaks the frame protocol over them.
type Server struct {
	log      logr.Logger
	engine   *server.Engine
	upgrader websocket.Upgrader
}

func NewServer(log logr.Logger, engine *server.Engine) *Server {
	return &Server{
		log:    log.WithName("transport"),
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "websocket upgrade failed")
		return
	}
	c := &conn{
		ws:      ws,
		engine:  s.engine,
		log:     s.log.WithValues("remote", ws.RemoteAddr().String()),
		out:     make(chan any, outboundBuffer),
		done:    make(chan struct{}),
		queries: map[string]server.Handle{},
	}
	c.serve(r.Context())
}

// conn is one client session. The read loop dispatches commands; a single
// writer goroutine owns the websocket for writes.
type conn struct {
	ws      *websocket.Conn
	engine  *server.Engine
	log     logr.Logger
	out     chan any
	done    chan struct{}
	queries map[string]server.Handle
}

func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)
	defer func() {
		// Session teardown drops the connection's registrations.
		for _, h := range c.queries {
			if err := c.engine.Unregister(context.Background(), h); err != nil {
				c.log.V(1).Info("unregister on close failed", "query", h.Name, "error", err.Error())
			}
		}
		c.ws.Close() //nolint:errcheck
	}()
	// Closed before teardown so pumps blocked on a full outbound buffer
	// release instead of wedging the unregister calls.
	defer close(c.done)

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, context.Canceled) {
				c.log.V(1).Info("connection closed", "error", err.Error())
			}
			return
		}
		if err := c.dispatch(ctx, &f); err != nil {
			c.send(errorFrameFor(f.Name, err))
		}
	}
}

func (c *conn) dispatch(ctx context.Context, f *Frame) error {
	switch f.Op {
	case OpRegister:
		return c.register(ctx, f)
	case OpRetract:
		return c.retract(ctx, f)
	case OpTransact:
		if err := c.engine.Transact(ctx, f.TxData, f.Time); err != nil {
			return err
		}
		c.send(AckFrame{Ack: OpTransact})
		return nil
	case OpAdvanceTime:
		if err := c.engine.AdvanceTo(ctx, f.Time); err != nil {
			return err
		}
		c.send(AckFrame{Ack: OpAdvanceTime})
		return nil
	case OpCreateAttribute:
		cfg := store.Config{Semantics: f.Semantics, Slack: f.Slack}
		if err := c.engine.CreateAttribute(ctx, f.Name, cfg); err != nil {
			return err
		}
		c.send(AckFrame{Ack: OpCreateAttribute, Name: f.Name})
		return nil
	default:
		return &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("unknown op %q", f.Op)}
	}
}

func (c *conn) register(ctx context.Context, f *Frame) error {
	if _, ok := c.queries[f.Name]; ok {
		return &data.Error{Category: data.ErrConflict,
			Message: fmt.Sprintf("query %q already registered on this session", f.Name)}
	}
	p, err := plan.UnmarshalNode(f.Plan)
	if err != nil {
		return &data.Error{Category: data.ErrPlan,
			Message: fmt.Sprintf("invalid plan: %s", err.Error())}
	}
	h, err := c.engine.Register(ctx, f.Name, p, f.Rules)
	if err != nil {
		return err
	}
	c.queries[f.Name] = h
	c.send(AckFrame{Ack: OpRegister, Name: f.Name, Vars: h.Vars})

	if f.Live {
		ch, err := c.engine.Subscribe(ctx, h, 0)
		if err != nil {
			return err
		}
		go c.pump(f.Name, h.Vars, ch)
	}
	return nil
}

func (c *conn) retract(ctx context.Context, f *Frame) error {
	h, ok := c.queries[f.Name]
	if !ok {
		return &data.Error{Category: data.ErrNotFound,
			Message: fmt.Sprintf("query %q not registered on this session", f.Name)}
	}
	delete(c.queries, f.Name)
	if err := c.engine.Unregister(ctx, h); err != nil {
		return err
	}
	c.send(AckFrame{Ack: OpRetract, Name: f.Name})
	return nil
}

// pump forwards a subscription to the client until the engine closes it.
func (c *conn) pump(query string, vars []plan.Var, ch <-chan data.ResultDiff) {
	for d := range ch {
		c.send(ResultFrame{
			Query:   query,
			Tuple:   d.Tuple,
			Binding: data.BindTuple(vars, d.Tuple),
			Time:    d.Time,
			Diff:    d.Diff,
		})
	}
}

// send queues a frame for the writer goroutine. A slow client backs the
// session up rather than losing frames; the engine-side subscription buffer
// bounds how far it can fall behind before the session is torn down.
func (c *conn) send(frame any) {
	select {
	case c.out <- frame:
	case <-c.done:
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.out:
			if err := c.ws.WriteJSON(frame); err != nil {
				c.log.V(1).Info("write failed", "error", err.Error())
				return
			}
		}
	}
}

func errorFrameFor(query string, err error) ErrorFrame {
	ef := ErrorFrame{Query: query, Category: data.ErrRuntime, Message: err.Error()}
	var de *data.Error
	if errors.As(err, &de) {
		ef.Category = de.Category
	}
	return ef
}

// Decode classifies an outbound frame read from the wire: result frames
// carry a tuple, error frames a category, everything else is an ack.
func Decode(b []byte) (any, error) {
	var head struct {
		Tuple    json.RawMessage `json:"tuple"`
		Category string          `json:"category"`
		Ack      string          `json:"ack"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, err
	}
	switch {
	case head.Tuple != nil:
		var rf ResultFrame
		err := json.Unmarshal(b, &rf)
		return rf, err
	case head.Category != "":
		var ef ErrorFrame
		err := json.Unmarshal(b, &ef)
		return ef, err
	default:
		var af AckFrame
		err := json.Unmarshal(b, &af)
		return af, err
	}
}
