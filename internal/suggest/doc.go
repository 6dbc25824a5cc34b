// Package suggest turns customer messages into streamed reply suggestions.
//
// The Orchestrator keeps at most one live run per conversation. StartRun
// cancels the previous run's CancelToken under the conversation's slot lock,
// the same lock every forward step takes, so a superseded run forwards
// nothing once StartRun returns. A run that is not superseded publishes its
// fragments on the suggestions channel followed by exactly one done or error
// marker.
//
// The Supervisor connects the conversation service's append signals to
// StartRun for customer-authored messages.
package suggest
