package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is a provider-neutral chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
}

type LLMResponse struct {
	Text       string
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// FallbackLLMClient retries a failed completion on a second provider.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

// NewFallbackLLMClient creates a fallback-enabled client. A nil fallback
// makes it a pass-through.
func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("classify: primary llm client cannot be nil")
	}
	return &FallbackLLMClient{primary: primary, fallback: fallback, logger: logging.OrDefault(logger)}
}

// Complete tries the primary provider, then the fallback.
func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	c.logger.Warn("primary LLM failed, attempting fallback", "error", err.Error(), "fallback_available", c.fallback != nil)
	if c.fallback == nil {
		return LLMResponse{}, err
	}
	resp, ferr := c.fallback.Complete(ctx, req)
	if ferr != nil {
		c.logger.Error("fallback LLM also failed", "primary_error", err.Error(), "fallback_error", ferr.Error())
		return LLMResponse{}, ferr
	}
	return resp, nil
}

var instructions = map[Kind]string{
	KindIntent: "Classify the customer's intent for a commerce chat. Allowed labels: " +
		strings.Join(Intents, ", ") + ".",
	KindLanguage: "Detect the language of the customer's message. Answer with an ISO 639-1 code, " +
		"or \"mixed\" when no single language dominates.",
	KindGovernor: "Classify how the message should be governed. Allowed labels: business (a commerce request), " +
		"casual (small talk), spam (unsolicited or flooding content), abuse (insults or threats).",
}

const answerFormat = `Respond with JSON only: {"label": "<label>", "confidence": <number between 0 and 1>}.`

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// LLMClassifier asks a model for a {label, confidence} JSON verdict.
type LLMClassifier struct {
	client LLMClient
	model  string
	kind   Kind
}

// NewLLMClassifier builds a model-backed classifier for kind.
func NewLLMClassifier(client LLMClient, model string, kind Kind) *LLMClassifier {
	if client == nil {
		panic("classify: llm client cannot be nil")
	}
	if _, ok := instructions[kind]; !ok {
		panic(fmt.Sprintf("classify: unknown classifier kind %q", kind))
	}
	return &LLMClassifier{client: client, model: model, kind: kind}
}

// Classify sends the message with recent context and parses the verdict.
func (c *LLMClassifier) Classify(ctx context.Context, in Input) (Result, error) {
	system := []string{instructions[c.kind], answerFormat}
	if c.kind == KindLanguage && len(in.AllowedLanguages) > 0 {
		system = append(system, "Languages this business serves: "+strings.Join(in.AllowedLanguages, ", ")+".")
	}
	var msgs []ChatMessage
	if len(in.Recent) > 0 {
		msgs = append(msgs, ChatMessage{Role: ChatRoleUser, Content: "Earlier messages:\n" + strings.Join(in.Recent, "\n")})
		msgs = append(msgs, ChatMessage{Role: ChatRoleAssistant, Content: "Noted."})
	}
	msgs = append(msgs, ChatMessage{Role: ChatRoleUser, Content: in.Text})

	resp, err := c.client.Complete(ctx, LLMRequest{
		Model:       c.model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   64,
		Temperature: 0,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrClassification, c.kind, err)
	}
	return parseVerdict(resp.Text)
}

func parseVerdict(text string) (Result, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return Result{}, fmt.Errorf("%w: no json in model output", ErrClassification)
	}
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Result{}, fmt.Errorf("%w: decode verdict: %v", ErrClassification, err)
	}
	if strings.TrimSpace(r.Label) == "" {
		return Result{}, errors.New("classify: verdict missing label")
	}
	return r, nil
}
