// Package span models the nodes of an agent trace graph.
//
// A Tracer starts spans; each span records a causal parent (or none for a
// root), a kind, timing, payloads, model usage and attributes. Ending a span
// freezes it and hands exactly one Record to the tracer's Processor.
//
//	ctx, root := tracer.Start(ctx, span.KindRoot, "handle-request")
//	defer root.End()
//
//	_, call := tracer.Start(ctx, span.KindToolCall, "search")
//	call.SetInput(query)
//	call.End()
//
// The in-flight span travels on the context, so spans started from a derived
// context become its children.
package span
