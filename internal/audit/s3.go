package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// S3API is the subset of the S3 client used by S3Archiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each batch as one JSONL object, keyed by date.
type S3Archiver struct {
	client S3API
	bucket string
	logger *logging.Logger
	now    func() time.Time
}

// NewS3Archiver returns nil when bucket or client is missing.
func NewS3Archiver(client S3API, bucket string, logger *logging.Logger) *S3Archiver {
	if client == nil || bucket == "" {
		return nil
	}
	return &S3Archiver{client: client, bucket: bucket, logger: logging.OrDefault(logger), now: time.Now}
}

// HandleBatch uploads the batch.
func (a *S3Archiver) HandleBatch(ctx context.Context, entries []Entry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("audit: encode entry %s: %w", e.ID, err)
		}
	}
	now := a.now().UTC()
	key := fmt.Sprintf("tool-audit/v1/by-date/%d/%02d/%02d/%s.jsonl", now.Year(), now.Month(), now.Day(), uuid.NewString())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("audit: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived tool audit batch", "s3_key", key, "entries", len(entries))
	return nil
}
