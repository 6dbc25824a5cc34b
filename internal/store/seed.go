// ABOUTME: Demo conversation for fresh installs
// ABOUTME: Enabled by store.seed_demo

package store

import (
	"context"
	"fmt"
)

// Seed creates the demo conversation used by local frontends during development.
func Seed(ctx context.Context, s Store) (*Conversation, error) {
	conv, err := s.CreateConversation(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating demo conversation: %w", err)
	}

	script := []struct {
		role Role
		text string
	}{
		{RoleCustomer, "Hello!"},
		{RoleAgent, "How can I assist you today?"},
	}
	for _, line := range script {
		if _, err := s.AppendMessage(ctx, conv.ID, line.role, line.text); err != nil {
			return nil, fmt.Errorf("seeding demo message: %w", err)
		}
	}

	if err := s.SetContext(ctx, conv.ID, "General inquiry"); err != nil {
		return nil, fmt.Errorf("seeding demo context: %w", err)
	}

	return s.GetConversation(ctx, conv.ID)
}
