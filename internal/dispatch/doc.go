// Package dispatch routes decoded webhook events to registered handlers.
//
// Handlers are registered per event kind with optional filters. A dispatch
// runs every matching handler in registration order. A handler that returns
// an error or panics never affects the others or the webhook response: the
// failure is wrapped in a HandlerError, passed to the exception handlers and
// logged.
//
//	d := dispatch.New(dispatch.WithLogger(logger))
//	dispatch.On[*event.Transaction](d, dispatch.HandlerFunc[*event.Transaction](onPayment),
//		dispatch.MustExprFilter(`payment_type == "IN" && amount >= 100`))
//	d.Freeze()
//	outcomes := d.Dispatch(ctx, tx)
package dispatch
