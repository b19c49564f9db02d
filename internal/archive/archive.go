// Package archive keeps a copy of every transaction removed by a bulk delete
// in object storage, one JSON object per committed deletion.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/jobs"
	"github.com/google/uuid"
)

// Batch is the archived record of one committed deletion.
type Batch struct {
	UserID       string               `json:"user_id"`
	DeletedAt    time.Time            `json:"deleted_at"`
	Transactions []domain.Transaction `json:"transactions"`
}

// Archiver writes deleted transactions to a bucket.
type Archiver struct {
	objects ObjectStore
	bucket  string
	prefix  string
	now     func() time.Time
	newID   func() string
}

// New creates an Archiver writing under prefix in bucket.
func New(objects ObjectStore, bucket, prefix string) *Archiver {
	return &Archiver{
		objects: objects,
		bucket:  bucket,
		prefix:  prefix,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// ObjectName returns where a batch for userID deleted at t is stored:
// <prefix>/<user>/<yyyy>/<mm>/<dd>/<id>.json
func (a *Archiver) ObjectName(userID string, t time.Time, id string) string {
	name := fmt.Sprintf("%s/%s/%s.json", userID, t.UTC().Format("2006/01/02"), id)
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// ArchiveDeleted stores txns as one batch. Nothing is written for an empty batch.
func (a *Archiver) ArchiveDeleted(ctx context.Context, userID string, txns []domain.Transaction) error {
	_, err := a.Write(ctx, Batch{UserID: userID, Transactions: txns})
	return err
}

// Write stores b and returns its gs:// URI.
func (a *Archiver) Write(ctx context.Context, b Batch) (string, error) {
	if len(b.Transactions) == 0 {
		return "", nil
	}
	if b.DeletedAt.IsZero() {
		b.DeletedAt = a.now()
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("Archiver.Write: encoding batch: %w", err)
	}
	object := a.ObjectName(b.UserID, b.DeletedAt, a.newID())
	if err := a.objects.Put(ctx, a.bucket, object, "application/json", data); err != nil {
		return "", fmt.Errorf("Archiver.Write: %w", err)
	}
	return URI(a.bucket, object), nil
}

// Read loads an archived batch by its gs:// URI.
func (a *Archiver) Read(ctx context.Context, uri string) (*Batch, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	data, err := a.objects.Get(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("Archiver.Read: %w", err)
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("Archiver.Read: decoding %s: %w", uri, err)
	}
	return &b, nil
}

// Queued defers archiving to the background job queue.
type Queued struct {
	publisher jobs.Publisher
	now       func() time.Time
}

// NewQueued creates an archiver that enqueues archive_transactions jobs.
func NewQueued(p jobs.Publisher) *Queued {
	return &Queued{publisher: p, now: time.Now}
}

// ArchiveDeleted enqueues txns for archiving.
func (q *Queued) ArchiveDeleted(ctx context.Context, userID string, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	job, err := jobs.NewJob(jobs.JobTypeArchiveTransactions, Batch{
		UserID:       userID,
		DeletedAt:    q.now(),
		Transactions: txns,
	})
	if err != nil {
		return err
	}
	if err := q.publisher.Publish(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("Queued.ArchiveDeleted: %w", err)
	}
	return nil
}

// JobHandler returns the handler that writes queued batches through a.
func JobHandler(a *Archiver) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.Job) error {
		var b Batch
		if err := job.Decode(&b); err != nil {
			return err
		}
		_, err := a.Write(ctx, b)
		return err
	}
}
