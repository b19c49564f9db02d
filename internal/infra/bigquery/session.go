package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// session pins queries to one BigQuery session so a transaction opened by
// BEGIN TRANSACTION spans several query jobs.
type session struct {
	client *bigquery.Client
	id     string
}

// beginSession creates a session and opens a transaction in it.
func beginSession(ctx context.Context, client *bigquery.Client) (*session, error) {
	q := client.Query("BEGIN TRANSACTION")
	q.CreateSession = true

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginSession: run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginSession: wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("beginSession: job error: %w", err)
	}
	if status.Statistics == nil || status.Statistics.SessionInfo == nil || status.Statistics.SessionInfo.SessionID == "" {
		return nil, fmt.Errorf("beginSession: job %s returned no session", job.ID())
	}

	return &session{client: client, id: status.Statistics.SessionInfo.SessionID}, nil
}

// Query builds a query that runs inside the session.
func (s *session) Query(sql string) *bigquery.Query {
	q := s.client.Query(sql)
	q.ConnectionProperties = sessionProperties(s.id)
	return q
}

func sessionProperties(id string) []*bigquery.ConnectionProperty {
	return []*bigquery.ConnectionProperty{{Key: "session_id", Value: id}}
}

func (s *session) commit(ctx context.Context) error {
	if _, err := runDML(ctx, s.Query("COMMIT TRANSACTION")); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *session) rollback(ctx context.Context) error {
	if _, err := runDML(context.WithoutCancel(ctx), s.Query("ROLLBACK TRANSACTION")); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// abort ends the session. Errors are ignored; idle sessions expire on their own.
func (s *session) abort(ctx context.Context) {
	_, _ = runDML(context.WithoutCancel(ctx), s.Query("CALL BQ.ABORT_SESSION()"))
}
