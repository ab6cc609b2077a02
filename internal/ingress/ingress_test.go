package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/commerce-concierge/internal/orchestrator"
	"github.com/wolfman30/commerce-concierge/internal/state"
)

const (
	tenantID = "0d7c1f3a-2b4e-4c6d-8e9f-a1b2c3d4e5f6"
	convA    = "7e6d5c4b-3a29-4181-9f0e-d1c2b3a49586"
	convB    = "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	seen  map[string][]string
	errFn func(in orchestrator.Inbound) (orchestrator.Outbound, error)
}

func (f *fakeSubmitter) Submit(_ context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error) {
	f.mu.Lock()
	if f.seen == nil {
		f.seen = map[string][]string{}
	}
	f.seen[in.ConversationID] = append(f.seen[in.ConversationID], in.MessageText)
	f.mu.Unlock()
	if f.errFn != nil {
		return f.errFn(in)
	}
	return orchestrator.Outbound{ConversationID: in.ConversationID, ResponseText: "re: " + in.MessageText}, nil
}

type captureSink struct {
	mu      sync.Mutex
	replies []orchestrator.Outbound
}

func (c *captureSink) Deliver(_ context.Context, _ orchestrator.Inbound, out orchestrator.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, out)
	return nil
}

func (c *captureSink) all() []orchestrator.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]orchestrator.Outbound(nil), c.replies...)
}

func inbound(conv, text string) orchestrator.Inbound {
	return orchestrator.Inbound{TenantID: tenantID, ConversationID: conv, MessageText: text}
}

func message(t *testing.T, id string, in orchestrator.Inbound) Message {
	t.Helper()
	body, err := json.Marshal(in)
	require.NoError(t, err)
	return Message{ID: id, Body: string(body), ReceiptHandle: "rh-" + id}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, Enqueue(ctx, q, inbound(convA, "one")))
	require.NoError(t, Enqueue(ctx, q, inbound(convA, "two")))

	msgs, err := q.Receive(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	in, err := decode(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "one", in.MessageText)
	assert.Zero(t, q.Len())
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msgs, err := q.Receive(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEnqueueRejectsInvalidInbound(t *testing.T) {
	err := Enqueue(context.Background(), NewMemoryQueue(1), orchestrator.Inbound{MessageText: "hi"})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidInbound)
}

func TestHandleBatchPreservesPerConversationOrder(t *testing.T) {
	sub := &fakeSubmitter{}
	sink := &captureSink{}
	w := NewWorker(sub, NewMemoryQueue(1), nil, WithReplySink(sink))

	msgs := []Message{
		message(t, "1", inbound(convA, "a1")),
		message(t, "2", inbound(convB, "b1")),
		message(t, "3", inbound(convA, "a2")),
		message(t, "4", inbound(convA, "a3")),
	}
	msgs = append(msgs, Message{ID: "bad", Body: "{not json"})

	failed := w.HandleBatch(context.Background(), msgs)
	assert.Empty(t, failed)
	assert.Equal(t, []string{"a1", "a2", "a3"}, sub.seen[convA])
	assert.Equal(t, []string{"b1"}, sub.seen[convB])
	assert.Len(t, sink.all(), 4)
}

func TestProcessBodyRedeliversWhenDispatcherClosed(t *testing.T) {
	sub := &fakeSubmitter{errFn: func(in orchestrator.Inbound) (orchestrator.Outbound, error) {
		return orchestrator.Outbound{ConversationID: in.ConversationID}, orchestrator.ErrDispatcherClosed
	}}
	sink := &captureSink{}
	w := NewWorker(sub, NewMemoryQueue(1), nil, WithReplySink(sink))

	err := w.ProcessBody(context.Background(), `{"tenant_id":"`+tenantID+`","conversation_id":"`+convA+`","message_text":"hi"}`)
	assert.ErrorIs(t, err, orchestrator.ErrDispatcherClosed)
	assert.Empty(t, sink.all())
}

func TestProcessBodyRedeliversWhenLockBusy(t *testing.T) {
	sub := &fakeSubmitter{errFn: func(orchestrator.Inbound) (orchestrator.Outbound, error) {
		return orchestrator.Outbound{}, state.ErrLockAcquire
	}}
	w := NewWorker(sub, NewMemoryQueue(1), nil, WithReplySink(&captureSink{}))
	err := w.ProcessBody(context.Background(), `{"tenant_id":"`+tenantID+`","conversation_id":"`+convA+`","message_text":"hi"}`)
	assert.ErrorIs(t, err, state.ErrLockAcquire)
}

func TestProcessBodyDeliversApologyOnFailure(t *testing.T) {
	sub := &fakeSubmitter{errFn: func(in orchestrator.Inbound) (orchestrator.Outbound, error) {
		return orchestrator.Outbound{ConversationID: in.ConversationID, ResponseText: "Pole, jaribu tena."}, errors.New("boom")
	}}
	sink := &captureSink{}
	w := NewWorker(sub, NewMemoryQueue(1), nil, WithReplySink(sink))

	require.NoError(t, w.ProcessBody(context.Background(), `{"tenant_id":"`+tenantID+`","conversation_id":"`+convA+`","message_text":"hi"}`))
	require.Len(t, sink.all(), 1)
	assert.Equal(t, "Pole, jaribu tena.", sink.all()[0].ResponseText)

	// no engine reply at all: fall back to the fixed apology
	sub.errFn = func(orchestrator.Inbound) (orchestrator.Outbound, error) {
		return orchestrator.Outbound{}, errors.New("panicked")
	}
	require.NoError(t, w.ProcessBody(context.Background(), `{"tenant_id":"`+tenantID+`","conversation_id":"`+convA+`","message_text":"hi"}`))
	require.Len(t, sink.all(), 2)
	assert.Equal(t, fallbackReply, sink.all()[1].ResponseText)
	assert.Equal(t, convA, sink.all()[1].ConversationID)
}

func TestProcessBodySkipsSilentTurns(t *testing.T) {
	sub := &fakeSubmitter{errFn: func(in orchestrator.Inbound) (orchestrator.Outbound, error) {
		return orchestrator.Outbound{ConversationID: in.ConversationID}, nil
	}}
	sink := &captureSink{}
	w := NewWorker(sub, NewMemoryQueue(1), nil, WithReplySink(sink))
	require.NoError(t, w.ProcessBody(context.Background(), `{"tenant_id":"`+tenantID+`","conversation_id":"`+convA+`","message_text":"buy followers"}`))
	assert.Empty(t, sink.all())
}

func TestWorkerConsumesQueue(t *testing.T) {
	sub := &fakeSubmitter{}
	sink := &captureSink{}
	q := NewMemoryQueue(8)
	w := NewWorker(sub, q, nil, WithReplySink(sink), WithWorkerCount(1), WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	require.NoError(t, Enqueue(ctx, q, inbound(convA, "hello")))
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	w.Wait()

	assert.Equal(t, "re: hello", sink.all()[0].ResponseText)
}

type fakeSQS struct {
	sent     []string
	deleted  []string
	messages []sqstypes.Message
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if in.MaxNumberOfMessages != 10 || in.WaitTimeSeconds != 20 {
		return nil, errors.New("unexpected receive params")
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	api := &fakeSQS{messages: []sqstypes.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String(`{"tenant_id":"t"}`),
		ReceiptHandle: aws.String("rh-1"),
	}}}
	q := NewSQSQueue(api, "https://sqs.local/turns")
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "body"))
	assert.Equal(t, []string{"body"}, api.sent)

	msgs, err := q.Receive(ctx, 10, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, Message{ID: "m-1", Body: `{"tenant_id":"t"}`, ReceiptHandle: "rh-1"}, msgs[0])

	require.NoError(t, q.Delete(ctx, "rh-1"))
	require.NoError(t, q.Delete(ctx, ""))
	assert.Equal(t, []string{"rh-1"}, api.deleted)

	assert.Panics(t, func() { NewSQSQueue(api, "") })
}
