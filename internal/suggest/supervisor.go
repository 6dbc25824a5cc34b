// ABOUTME: Supervisor turns append signals into suggestion runs
// ABOUTME: Only customer messages start a run

package suggest

import (
	"context"
	"log/slog"

	"github.com/2389/suggest-gateway/internal/conversation"
	"github.com/2389/suggest-gateway/internal/store"
)

// Supervisor starts a suggestion run for every customer message appended
// through the conversation service.
type Supervisor struct {
	signals      <-chan conversation.Appended
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewSupervisor creates a supervisor. Pass nil logger for default.
func NewSupervisor(signals <-chan conversation.Appended, orchestrator *Orchestrator, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		signals:      signals,
		orchestrator: orchestrator,
		logger:       logger.With("component", "supervisor"),
	}
}

// Run consumes append signals until ctx is done or the signal stream closes.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-s.signals:
			if !ok {
				return nil
			}
			if sig.Message == nil || sig.Message.Role != store.RoleCustomer {
				continue
			}
			runID := s.orchestrator.StartRun(sig.ConversationID)
			s.logger.Debug("suggestion requested",
				"conversation_id", sig.ConversationID,
				"message_id", sig.Message.ID,
				"run_id", runID)
		}
	}
}
