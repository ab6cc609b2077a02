package notify

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, ParseRecipients(" a@example.com, ,b@example.com "))
	assert.Empty(t, ParseRecipients(""))
}

type fakeSendGrid struct {
	status int
	err    error
	sent   *mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = email
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestNewSendGridSender_RequiresKey(t *testing.T) {
	_, err := NewSendGridSender("", From{Address: "ops@example.com"}, nil)
	assert.Error(t, err)
}

func TestSendGridSender_Send(t *testing.T) {
	fake := &fakeSendGrid{status: http.StatusAccepted}
	sender := newSendGridSender(fake, From{Address: "ops@example.com"}, nil)

	err := sender.Send(context.Background(), Message{
		To:       []string{"oncall@example.com", "lead@example.com"},
		Subject:  "alert",
		Text:     "body",
		Category: "handoff_failed",
	})
	require.NoError(t, err)
	require.NotNil(t, fake.sent)
	assert.Equal(t, "alert", fake.sent.Subject)
	assert.Equal(t, defaultFromName, fake.sent.From.Name)
	require.Len(t, fake.sent.Personalizations, 1)
	assert.Len(t, fake.sent.Personalizations[0].To, 2)
	assert.Equal(t, []string{"handoff_failed"}, fake.sent.Categories)

	fake.status = http.StatusBadRequest
	assert.Error(t, sender.Send(context.Background(), Message{To: []string{"oncall@example.com"}}))

	fake.err = errors.New("connection reset")
	assert.Error(t, sender.Send(context.Background(), Message{To: []string{"oncall@example.com"}}))
}

func TestSendGridSender_NoRecipients(t *testing.T) {
	fake := &fakeSendGrid{status: http.StatusAccepted}
	err := newSendGridSender(fake, From{Address: "ops@example.com"}, nil).Send(context.Background(), Message{Subject: "x"})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Nil(t, fake.sent)
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender, err := NewSESSender(fake, From{Address: "ops@example.com"}, nil)
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), Message{
		To:       []string{"oncall@example.com"},
		Subject:  "alert",
		Text:     "text",
		Category: "tenant_isolation_violation",
	}))
	assert.Equal(t, `"Commerce Concierge" <ops@example.com>`, aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"oncall@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "text", aws.ToString(fake.input.Content.Simple.Body.Text.Data))
	require.Len(t, fake.input.EmailTags, 1)
	assert.Equal(t, "tenant_isolation_violation", aws.ToString(fake.input.EmailTags[0].Value))

	fake.err = errors.New("throttled")
	assert.Error(t, sender.Send(context.Background(), Message{To: []string{"oncall@example.com"}}))
}

func TestNewSESSender_Validation(t *testing.T) {
	_, err := NewSESSender(nil, From{Address: "ops@example.com"}, nil)
	assert.Error(t, err)
	_, err = NewSESSender(&fakeSES{}, From{}, nil)
	assert.Error(t, err)
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(nil)
	assert.NoError(t, s.Send(context.Background(), Message{To: []string{"x@example.com"}}))
	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrNoRecipients)
}
