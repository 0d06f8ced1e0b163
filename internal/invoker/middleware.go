package invoker

import "github.com/justpipe/justpipe/internal/domain"

// Middleware is the decorator chain type any middleware (including the
// reference internal/middleware/retryware package) implements. It is an
// alias for domain.Middleware: the concrete type has to live in internal/
// domain to avoid an import cycle (internal/graph's Registry stores the
// chain and is itself imported by this package), but internal/invoker is
// the conceptual owner and public seam other packages plug into.
type Middleware = domain.Middleware
