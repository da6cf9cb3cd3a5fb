package transport

import (
	"encoding/json"

	"github.com/l7mp/reflow/pkg/data"
	"github.com/l7mp/reflow/pkg/plan"
	"github.com/l7mp/reflow/pkg/store"
)

// Client command ops.
const (
	OpRegister        = "register"
	OpRetract         = "retract"
	OpTransact        = "transact"
	OpAdvanceTime     = "advance-time"
	OpCreateAttribute = "create-attribute"
)

// Frame is one client command. Fields beyond Op are op-specific.
type Frame struct {
	Op string `json:"op"`

	// Register, retract, create-attribute: the query or attribute name.
	Name string `json:"name,omitempty"`

	// Register: the plan in wire form, optional rules, and whether to
	// stream live deltas after the initial snapshot.
	Plan  json.RawMessage `json:"plan,omitempty"`
	Rules []*plan.Rule    `json:"rules,omitempty"`
	Live  bool            `json:"live,omitempty"`

	// Transact.
	TxData []data.TxData `json:"tx_data,omitempty"`

	// Transact, advance-time.
	Time data.Time `json:"time,omitempty"`

	// Create-attribute.
	Semantics store.Semantics `json:"semantics,omitempty"`
	Slack     uint64          `json:"slack,omitempty"`
}

// ResultFrame carries one result delta of a registered query. Binding maps
// the query's variables, as acked on register, to the tuple values.
type ResultFrame struct {
	Query   string       `json:"query"`
	Tuple   data.Tuple   `json:"tuple"`
	Binding data.Binding `json:"binding,omitempty"`
	Time    data.Time    `json:"time"`
	Diff    int          `json:"diff"`
}

// ErrorFrame reports a failed command or a query error.
type ErrorFrame struct {
	Query    string `json:"query"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// AckFrame confirms a completed command. For register it carries the query's
// variable schema.
type AckFrame struct {
	Ack  string     `json:"ack"`
	Name string     `json:"name,omitempty"`
	Vars []plan.Var `json:"vars,omitempty"`
}
