// Package instrument records spans around calls into agent frameworks and
// model providers.
//
// Three shapes are covered. Call wraps a single function call. Stream keeps
// a span open across the chunks of a streamed response and folds each chunk
// into the span through an accumulate callback. RunTracker and
// CallbackHandler correlate start and end events that arrive separately,
// keyed by the framework's run identifier.
//
// Instrumentation never changes the outcome of the wrapped call. Failures
// inside the adapters are recovered by Guard, logged and counted.
//
// Provider adapters live in the anthropic and openai subpackages.
package instrument
