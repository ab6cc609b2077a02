package conversationworker

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/commerce-concierge/cmd/mainconfig"
	appbootstrap "github.com/wolfman30/commerce-concierge/internal/app/bootstrap"
	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	"github.com/wolfman30/commerce-concierge/internal/ingress"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// Run starts the async turn worker and blocks until ctx is canceled.
func Run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts appbootstrap.Options) error {
	if cfg == nil {
		return fmt.Errorf("conversation worker requires config")
	}
	logger = logging.OrDefault(logger)

	if cfg.UseMemoryQueue {
		return fmt.Errorf("conversation worker cannot run when USE_MEMORY_QUEUE=true; post turns to the API process instead")
	}
	if cfg.TurnQueueURL == "" {
		return fmt.Errorf("conversation worker requires TURN_QUEUE_URL")
	}

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	queue := ingress.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.TurnQueueURL)

	rt, err := appbootstrap.Build(ctx, cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("failed to build turn engine: %w", err)
	}

	return Serve(ctx, rt, queue, cfg, logger)
}

// Serve consumes queue until ctx is canceled, then drains in-flight turns
// and closes the runtime.
func Serve(ctx context.Context, rt *appbootstrap.Runtime, queue ingress.Queue, cfg *appconfig.Config, logger *logging.Logger) error {
	logger = logging.OrDefault(logger)

	if rt.Audit != nil && rt.Audit.Deliverer != nil {
		go rt.Audit.Deliverer.Start(ctx)
		logger.Info("tool audit archiver started")
	}

	worker := ingress.NewWorker(rt.Dispatcher, queue, logger,
		ingress.WithWorkerCount(pollers(cfg.WorkerCount)),
		ingress.WithReceiveWaitSeconds(int(cfg.TurnQueueWaitTime/time.Second)),
		ingress.WithReceiveBatchSize(cfg.TurnQueueBatchSize),
	)
	worker.Start(ctx)
	logger.Info("conversation worker started", "workers", cfg.WorkerCount)

	<-ctx.Done()
	logger.Info("shutting down conversation worker...")

	doneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-doneCtx.Done():
		logger.Warn("timed out waiting for pollers to stop")
	}
	return rt.Close(doneCtx)
}

// pollers keeps receive loops well below the dispatcher's worker bound.
func pollers(workers int) int {
	n := workers / 4
	if n < 1 {
		return 1
	}
	return n
}
