package audit

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/commerce-concierge/internal/tools"
)

const (
	tenantID = "4a1f0e2d-3c4b-4a59-8687-9a0b1c2d3e4f"
	convID   = "5b2e1f3a-4d5c-4b6a-9798-a0b1c2d3e4f5"
	reqID    = "6c3f2a4b-5e6d-4c7b-a8a9-b1c2d3e4f506"
)

func TestOutboxRecordFetchMark(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	outbox := NewOutbox(mock)
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO tool_audit_outbox").
		WithArgs(pgxmock.AnyArg(), tenantID, convID, reqID, "catalog_search", tools.OutcomeTimeout, pgxmock.AnyArg(), int64(1500), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, outbox.Record(context.Background(), tools.AuditEntry{
		TenantID:       tenantID,
		ConversationID: convID,
		RequestID:      reqID,
		Tool:           tools.CatalogSearch,
		Outcome:        tools.OutcomeTimeout,
		ErrorCode:      tools.CodeToolTimeout,
		Latency:        1500 * time.Millisecond,
		At:             at,
	}))

	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "tenant_id", "conversation_id", "request_id", "tool", "outcome", "error_code", "latency_ms", "created_at"}).
		AddRow(id, tenantID, convID, reqID, "catalog_search", tools.OutcomeTimeout, tools.CodeToolTimeout, int64(1500), at)
	mock.ExpectQuery("SELECT id, tenant_id").WithArgs(int32(50)).WillReturnRows(rows)

	entries, err := outbox.FetchPending(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, tools.CodeToolTimeout, entries[0].ErrorCode)
	assert.Equal(t, int64(1500), entries[0].LatencyMS)

	mock.ExpectExec("UPDATE tool_audit_outbox").WithArgs([]uuid.UUID{id}).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	n, err := outbox.MarkDelivered(context.Background(), []uuid.UUID{id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRecordError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO tool_audit_outbox").WillReturnError(errors.New("connection reset"))
	err = NewOutbox(mock).Record(context.Background(), tools.AuditEntry{TenantID: tenantID, Tool: tools.KBRetrieve})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit: insert outbox")
}

func TestNewOutboxPanicsWithoutPool(t *testing.T) {
	assert.Panics(t, func() { NewOutbox(nil) })
}

type fakeStore struct {
	pending []Entry
	marked  []uuid.UUID
}

func (f *fakeStore) FetchPending(_ context.Context, limit int32) ([]Entry, error) {
	if int(limit) < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, ids []uuid.UUID) (int64, error) {
	f.marked = append(f.marked, ids...)
	return int64(len(ids)), nil
}

type fakeHandler struct {
	batches [][]Entry
	err     error
}

func (f *fakeHandler) HandleBatch(_ context.Context, entries []Entry) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, entries)
	return nil
}

func TestDelivererDrain(t *testing.T) {
	store := &fakeStore{pending: []Entry{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}}
	handler := &fakeHandler{}
	d := NewDeliverer(store, handler, nil).WithBatchSize(2)

	assert.Equal(t, int64(2), d.Drain(context.Background()))
	require.Len(t, handler.batches, 1)
	assert.Len(t, handler.batches[0], 2)
	assert.Equal(t, []uuid.UUID{store.pending[0].ID, store.pending[1].ID}, store.marked)
}

func TestDelivererKeepsEntriesWhenHandlerFails(t *testing.T) {
	store := &fakeStore{pending: []Entry{{ID: uuid.New()}}}
	d := NewDeliverer(store, &fakeHandler{err: errors.New("s3 down")}, nil)

	assert.Zero(t, d.Drain(context.Background()))
	assert.Empty(t, store.marked)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	data, _ := io.ReadAll(in.Body)
	f.body = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiverWritesJSONL(t *testing.T) {
	client := &fakeS3{}
	a := NewS3Archiver(client, "audit-bucket", nil)
	require.NotNil(t, a)
	a.now = func() time.Time { return time.Date(2026, 5, 7, 8, 0, 0, 0, time.UTC) }

	err := a.HandleBatch(context.Background(), []Entry{
		{ID: uuid.New(), TenantID: tenantID, Tool: "kb_retrieve", Outcome: tools.OutcomeSuccess},
		{ID: uuid.New(), TenantID: tenantID, Tool: "order_create", Outcome: tools.OutcomeFailure, ErrorCode: tools.CodeInsufficientStock},
	})
	require.NoError(t, err)
	assert.Equal(t, "audit-bucket", *client.input.Bucket)
	assert.True(t, strings.HasPrefix(*client.input.Key, "tool-audit/v1/by-date/2026/05/07/"))
	lines := strings.Split(strings.TrimSpace(client.body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"error_code":"INSUFFICIENT_STOCK"`)
	assert.NotContains(t, lines[0], "error_code")
}

func TestNewS3ArchiverDisabled(t *testing.T) {
	assert.Nil(t, NewS3Archiver(nil, "bucket", nil))
	assert.Nil(t, NewS3Archiver(&fakeS3{}, "", nil))
}
