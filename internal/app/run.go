package app

// Run tracks one CLI invocation that may mutate the database.
// Runs are created in memory with ID=0. Only mutating commands persist
// them (giving them an auto-increment ID from the database).
type Run struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewRun creates a new in-memory run.
func NewRun(operation, parameters string) *Run {
	return &Run{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this run has been saved to the database.
func (r *Run) Persisted() bool {
	return r.ID != 0
}
