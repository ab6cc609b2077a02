package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/commerce-concierge/internal/classify"
	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// Classifiers groups the three stage classifiers.
type Classifiers struct {
	Intent   classify.Classifier
	Language classify.Classifier
	Governor classify.Classifier
	close    func() error
}

// Close releases model clients.
func (c Classifiers) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// BuildClassifiers returns the deterministic rule classifiers unless
// CLASSIFIER=llm, in which case Bedrock is primary and Gemini the fallback
// (either may be absent, not both).
func BuildClassifiers(ctx context.Context, cfg *appconfig.Config, awsCfg func() (aws.Config, error), logger *logging.Logger) (Classifiers, error) {
	rules := Classifiers{
		Intent:   classify.RuleIntent{},
		Language: classify.RuleLanguage{},
		Governor: classify.RuleGovernor{},
	}
	if cfg.Classifier != "llm" {
		return rules, nil
	}
	logger = logging.OrDefault(logger)

	var primary, fallback classify.LLMClient
	var gemini *classify.GeminiLLMClient
	model := cfg.BedrockModelID

	if cfg.BedrockModelID != "" {
		loaded, err := awsCfg()
		if err != nil {
			return Classifiers{}, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		primary = classify.NewBedrockLLMClient(bedrockruntime.NewFromConfig(loaded))
	}
	if cfg.GeminiAPIKey != "" {
		client, err := classify.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return Classifiers{}, err
		}
		gemini = client
		if primary == nil {
			primary = client
			model = cfg.GeminiModel
		} else {
			fallback = client
		}
	}
	if primary == nil {
		logger.Warn("CLASSIFIER=llm but no model configured; using rule classifiers")
		return rules, nil
	}

	client := classify.NewFallbackLLMClient(primary, fallback, logger)
	out := Classifiers{
		Intent:   classify.NewLLMClassifier(client, model, classify.KindIntent),
		Language: classify.NewLLMClassifier(client, model, classify.KindLanguage),
		Governor: classify.NewLLMClassifier(client, model, classify.KindGovernor),
	}
	if gemini != nil {
		out.close = gemini.Close
	}
	logger.Info("llm classifiers enabled", "model", model, "fallback", fallback != nil)
	return out, nil
}
