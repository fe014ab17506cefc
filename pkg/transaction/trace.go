package transaction

import "context"

// Trace records fn as one Transaction under the chain carried by ctx. The
// error returned by fn is recorded and returned unchanged. If no
// Transaction can be started (unbound chain with PolicyError) fn still
// runs, untraced.
func Trace[R any](ctx context.Context, s *Store, module, typ, method string, names []string, args []any, fn func(ctx context.Context) (R, error)) (R, error) {
	txn, err := s.Begin(ctx, module, typ, method)
	if err != nil {
		return fn(ctx)
	}
	_ = txn.Commence(names, args)

	out, err := fn(ctx)
	if err != nil {
		_ = txn.Failed(err)
		return out, err
	}
	_ = txn.End(out)
	return out, nil
}
