// Package ingress feeds inbound customer messages from a queue into the
// turn dispatcher.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/commerce-concierge/internal/orchestrator"
)

// Queue is the transport the worker polls.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one queued inbound turn.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Enqueue validates and publishes an inbound message.
func Enqueue(ctx context.Context, q Queue, in orchestrator.Inbound) error {
	if err := in.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("ingress: encode inbound: %w", err)
	}
	return q.Send(ctx, string(body))
}

func decode(body string) (orchestrator.Inbound, error) {
	var in orchestrator.Inbound
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return orchestrator.Inbound{}, fmt.Errorf("ingress: decode inbound: %w", err)
	}
	if err := in.Validate(); err != nil {
		return orchestrator.Inbound{}, err
	}
	return in, nil
}
