// Package transaction records instrumented calls and carries request-scoped
// state along logical call chains.
//
// # Transactions
//
// A Transaction is one recorded call: identity (module, type, method,
// request id and sequence number), an input snapshot, the output or failure,
// timing and an optional list of field transitions. Instrumentation code
// drives it through a fixed lifecycle:
//
//	txn, err := store.Begin(ctx, "billing", "Invoice", "Charge")
//	txn.Commence([]string{"amount", "currency"}, []any{amount, currency})
//	out, err := charge(ctx, amount, currency)
//	if err != nil {
//	    txn.Failed(err)
//	    return err
//	}
//	txn.End(out)
//
// End and Failed hand the Transaction to the sink currently installed in the
// Registry. Trace wraps the whole sequence for the common case.
//
// # Logical chains
//
// Go has no continuation-local storage, so a chain travels in a
// context.Context. Run and Bind derive a context carrying a fresh chain;
// goroutines started with that context (or contexts derived from it) belong
// to the same chain and see each other's Set calls. Two chains never share
// state, even when their goroutines interleave.
//
//	err := store.Run(ctx, reqID, nil, func(ctx context.Context) error {
//	    store.Set(ctx, "tenant", tenant)
//	    go worker(ctx) // same chain
//	    return handle(ctx)
//	})
//
// Code running without a chain either fails with ErrNotBound or shares an
// "unbound" chain, depending on the Registry's UnboundPolicy.
//
// # Registry
//
// The Registry holds the process-wide bindings: the active sink, the unbound
// policy and the error-mapping flags. It is an explicit object so tests and
// embedders can run isolated pipelines; Default returns the shared instance.
package transaction
