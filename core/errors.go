package core

import "errors"

var (
	// ErrRetrievalUnavailable is returned by a Retriever when the knowledge
	// index cannot be reached. Callers must proceed without grounding rather
	// than failing the call.
	ErrRetrievalUnavailable = errors.New("knowledge retrieval unavailable")

	// ErrGenerationFailure is returned by the planner when the language
	// backend is unreachable or produced malformed output. The state machine
	// maps it to a scripted fallback utterance and a forced transfer.
	ErrGenerationFailure = errors.New("generation failure")

	// ErrUnknownCall is returned when an event references a call identifier
	// with no live session, e.g. a stray or late transport callback. It is
	// logged and dropped, never fatal.
	ErrUnknownCall = errors.New("unknown call")

	// ErrDispatchFailure is returned when the transport rejects an outbound
	// placement synchronously (invalid number, rate limited). No session is
	// created; the job fails immediately and backs off.
	ErrDispatchFailure = errors.New("outbound dispatch failure")

	// ErrCallEnded is returned when a command or event targets a call that
	// has already reached its terminal state.
	ErrCallEnded = errors.New("call already ended")
)
