package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	appbootstrap "github.com/wolfman30/commerce-concierge/internal/app/bootstrap"
	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	"github.com/wolfman30/commerce-concierge/internal/ingress"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

type batchHandler interface {
	HandleBatch(ctx context.Context, messages []ingress.Message) []string
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	rt, err := appbootstrap.Build(context.Background(), cfg, logger, appbootstrap.Options{})
	if err != nil {
		panic(err)
	}
	// Lambda never polls; HandleBatch is driven by the event source mapping.
	worker := ingress.NewWorker(rt.Dispatcher, nil, logger)

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, worker, evt)
	})
}

// handle reports failed records so only those are redelivered.
func handle(ctx context.Context, h batchHandler, evt events.SQSEvent) (events.SQSEventResponse, error) {
	messages := make([]ingress.Message, 0, len(evt.Records))
	for _, rec := range evt.Records {
		messages = append(messages, ingress.Message{
			ID:            rec.MessageId,
			Body:          rec.Body,
			ReceiptHandle: rec.ReceiptHandle,
		})
	}

	var resp events.SQSEventResponse
	for _, id := range h.HandleBatch(ctx, messages) {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp, nil
}
