package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Forward subscribes to the live topic of one execution and hands every event
// to send, typically (*tea.Program).Send.
func Forward(publisher ports.EventPublisher, executionID string, send func(tea.Msg)) (ports.Subscription, error) {
	return publisher.Subscribe(agent.TopicFor(executionID), func(_ context.Context, event ports.DomainEvent) error {
		live, ok := event.(agent.LiveEvent)
		if !ok {
			return nil
		}
		send(EventMsg{Event: live})
		return nil
	})
}

// Apply feeds msg to a model outside a running program, for non-interactive
// output.
func Apply(state *Model, msg tea.Msg) {
	updated, _ := state.Update(msg)
	if m, ok := updated.(Model); ok {
		*state = m
	}
}
