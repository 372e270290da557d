// Package session implements the generation session controller.
//
// The controller owns the lifecycle of a single, expensive diffusion pipeline:
//
//   - Controller decides when the pipeline must be (re)initialized or reshaped and
//     serializes every generation against the shared adapter.
//   - Dispatcher runs generations on a worker goroutine so interactive surfaces never
//     block, and turns each trigger into a Ticket that resolves to exactly one Result.
//   - Pipeline is the adapter contract implemented by sdruntime (local engine) and
//     imagegen (remote API).
//
// Basic usage:
//
//	ctrl := session.NewController(pipeline, session.WithLogger(logger))
//	disp := session.NewDispatcher(ctrl, session.WithPolicy(session.PolicyReject))
//	defer disp.Close(context.Background())
//
//	ticket := disp.Trigger(settings)
//	res, err := ticket.Wait(ctx)
//	if err != nil {
//	    // still running
//	}
//	if res.Err != nil {
//	    // render res.Err.Kind and res.Err.Message
//	}
//
// PipelineState is never shared. Surfaces may read a copy through Controller.State.
package session
