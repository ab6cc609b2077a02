package classify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

var stageTracer = otel.Tracer("concierge/classify")

// Results holds the three classifications for a turn.
type Results struct {
	Intent   Result
	Language Result
	Governor Result
	Failed   []Kind
}

// Stage runs the intent, language and governor classifiers concurrently.
type Stage struct {
	intent   Classifier
	language Classifier
	governor Classifier
	timeout  time.Duration
	logger   *logging.Logger
}

// NewStage builds a stage. A zero timeout means 5 seconds per classifier.
func NewStage(intent, language, governor Classifier, timeout time.Duration, logger *logging.Logger) *Stage {
	if intent == nil || language == nil || governor == nil {
		panic("classify: all three classifiers are required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Stage{
		intent:   intent,
		language: language,
		governor: governor,
		timeout:  timeout,
		logger:   logging.OrDefault(logger),
	}
}

// Run never fails: a classifier error, timeout or out-of-set label becomes
// ("unknown", 0) for that kind and is listed in Results.Failed.
func (s *Stage) Run(ctx context.Context, in Input) Results {
	ctx, span := stageTracer.Start(ctx, "classify.stage")
	defer span.End()

	var out Results
	failed := make([]bool, 3)
	var g errgroup.Group
	run := func(i int, kind Kind, c Classifier, dst *Result) {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			res, err := safeClassify(cctx, c, in)
			if err != nil {
				s.logger.WarnContext(ctx, "classifier failed", "kind", string(kind), "error", err)
				failed[i] = true
				*dst = UnknownResult()
				return nil
			}
			*dst = Sanitize(kind, res)
			return nil
		})
	}
	run(0, KindIntent, s.intent, &out.Intent)
	run(1, KindLanguage, s.language, &out.Language)
	run(2, KindGovernor, s.governor, &out.Governor)
	_ = g.Wait()

	for i, kind := range []Kind{KindIntent, KindLanguage, KindGovernor} {
		if failed[i] {
			out.Failed = append(out.Failed, kind)
		}
	}

	span.SetAttributes(
		attribute.String("intent", out.Intent.Label),
		attribute.Float64("intent_confidence", out.Intent.Confidence),
		attribute.String("language", out.Language.Label),
		attribute.String("governor", out.Governor.Label),
	)
	return out
}

func safeClassify(ctx context.Context, c Classifier, in Input) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrClassification, r)
		}
	}()
	res, err = c.Classify(ctx, in)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ErrClassification, ctx.Err())
	}
	return res, err
}
