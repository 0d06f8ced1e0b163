package domain

// InvocationContext is the per-invocation identity attached to every event
// and completion record (spec.md §3 "Invocation context"). It is distinct
// from Invocation (the argument-injection struct handed to a StepFunc):
// InvocationContext is lineage/bookkeeping that outlives a single call and
// is threaded through scheduling decisions, while Invocation is rebuilt
// fresh for each concrete call.
//
// Ported field-for-field from original_source's
// _internal/runtime/orchestration/control.py InvocationContext dataclass.
type InvocationContext struct {
	InvocationID       string
	ParentInvocationID string
	OwnerInvocationID  string
	Attempt            int
	Scope              []string
	NodeKind           NodeKind
}

// WithScope returns a copy of the invocation context with name appended to
// the scope path, used when entering a nested sub-pipeline or map worker.
func (ic InvocationContext) WithScope(name string) InvocationContext {
	scope := make([]string, len(ic.Scope)+1)
	copy(scope, ic.Scope)
	scope[len(ic.Scope)] = name
	ic.Scope = scope
	return ic
}
