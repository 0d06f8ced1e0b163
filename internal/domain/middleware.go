package domain

// Middleware decorates a StepFunc, e.g. to add tracing, retries, or
// logging around every step invocation that runs through a step's Fn
// (Stream steps are not wrapped). Defined in domain
// (rather than internal/invoker, where it conceptually belongs) purely to
// avoid an import cycle: internal/graph's Registry stores the chain and is
// imported by internal/invoker, so the type itself must live somewhere
// both can reach without invoker importing graph importing invoker.
type Middleware func(StepFunc) StepFunc
