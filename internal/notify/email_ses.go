package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers through SES v2.
type SESSender struct {
	client sesAPI
	from   From
	logger *logging.Logger
}

func NewSESSender(client sesAPI, from From, logger *logging.Logger) (*SESSender, error) {
	if client == nil {
		return nil, errors.New("notify: ses client required")
	}
	if from.Address == "" {
		return nil, errors.New("notify: ses from address required")
	}
	return &SESSender{client: client, from: from.withDefaults(), logger: logging.OrDefault(logger)}, nil
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

func (s *SESSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	from := (&mail.Address{Name: s.from.Name, Address: s.from.Address}).String()
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: utf8Content(msg.Subject),
				Body:    &types.Body{Text: utf8Content(msg.Text)},
			},
		},
	}
	if msg.Category != "" {
		input.EmailTags = []types.MessageTag{{Name: aws.String("category"), Value: aws.String(msg.Category)}}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("notify: ses: %w", err)
	}
	s.logger.InfoContext(ctx, "operator email sent", "provider", "ses",
		"recipients", len(msg.To), "category", msg.Category, "message_id", aws.ToString(out.MessageId))
	return nil
}

var _ Sender = (*SESSender)(nil)
