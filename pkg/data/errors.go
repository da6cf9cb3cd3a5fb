package data

// Error categories, reported to clients alongside free-form messages.
const (
	ErrNotFound = "reflow.error/not-found"
	ErrConflict = "reflow.error/conflict"
	ErrPlan     = "reflow.error/plan"
	ErrRuntime  = "reflow.error/runtime"
	ErrFatal    = "reflow.error/fatal"
)

// Error is a client-facing, non-exceptional error.
type Error struct {
	// Error category.
	Category string `json:"category"`
	// Free-form description.
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Category + ": " + e.Message }
