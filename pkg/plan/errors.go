package plan

import (
	"fmt"

	"github.com/l7mp/reflow/pkg/data"
)

// PlanError reports a malformed or ill-typed plan at registration time. The
// offending sub-plan is named so clients can locate the problem; the query is
// never installed.
type PlanError struct {
	Message string
	Node    Node
}

func (e *PlanError) Error() string {
	if e.Node != nil {
		return fmt.Sprintf("%s in %s", e.Message, Sprint(e.Node))
	}
	return e.Message
}

// AsError converts the plan error to a client-facing categorized error.
func (e *PlanError) AsError() *data.Error {
	return &data.Error{Category: data.ErrPlan, Message: e.Error()}
}

func newPlanError(n Node, format string, args ...any) *PlanError {
	return &PlanError{Message: fmt.Sprintf(format, args...), Node: n}
}
