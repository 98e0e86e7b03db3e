// Package ingest fans out ingestion jobs across the data sources of a
// knowledge base. Triggering is fire-and-forget: the dispatcher confirms
// the control plane accepted each start request and never polls for the
// job's completion.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/bedrockagent"
	"github.com/aws/aws-sdk-go/service/bedrockagent/bedrockagentiface"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"agentctl/pkg/logging"
	"agentctl/pkg/workgroup"
)

// DefaultConcurrency bounds the trigger fan-out when no limit is configured.
const DefaultConcurrency = 4

// Trigger records the outcome of one start-job request.
type Trigger struct {
	DataSourceID   string
	IngestionJobID string
	Err            error
}

// Accepted reports whether the control plane accepted the trigger.
func (t Trigger) Accepted() bool {
	return t.Err == nil
}

// StatusLine renders the trigger outcome for operator-facing output.
func (t Trigger) StatusLine() string {
	if t.Err != nil {
		return fmt.Sprintf("data source %s: trigger failed: %v", t.DataSourceID, t.Err)
	}
	return fmt.Sprintf("data source %s: ingestion job %s started", t.DataSourceID, t.IngestionJobID)
}

// Report aggregates trigger outcomes for one knowledge base. It holds
// exactly one entry per enumerated data source, in enumeration order. An
// empty report is a legitimate terminal state: a knowledge base may have no
// data sources.
type Report struct {
	KnowledgeBaseID string
	Triggers        []Trigger
}

// Failed counts the triggers the control plane rejected.
func (r *Report) Failed() int {
	n := 0
	for _, t := range r.Triggers {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Dispatcher enumerates a knowledge base's data sources and starts one
// ingestion job per source.
type Dispatcher struct {
	api         bedrockagentiface.BedrockAgentAPI
	log         logging.Logger
	concurrency int
	pageSize    int64
	timeout     time.Duration
}

// NewDispatcher returns a Dispatcher running at most concurrency triggers
// at a time, with each control-plane call bounded by timeout. Non-positive
// concurrency falls back to DefaultConcurrency; a timeout of zero or less
// leaves calls unbounded.
func NewDispatcher(api bedrockagentiface.BedrockAgentAPI, log logging.Logger, concurrency int, pageSize int64, timeout time.Duration) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Dispatcher{api: api, log: log, concurrency: concurrency, pageSize: pageSize, timeout: timeout}
}

// perCall bounds a single control-plane call when a timeout is configured.
func (d *Dispatcher) perCall(parent context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(parent, d.timeout)
	}
	return context.WithCancel(parent)
}

// DispatchAll starts one ingestion job per data source of the knowledge
// base. Triggers are independent: a rejected trigger is recorded in its
// report entry and never aborts the others. The returned error covers only
// the enumeration itself; trigger failures are visible via Report.Failed.
func (d *Dispatcher) DispatchAll(ctx context.Context, knowledgeBaseID string) (*Report, error) {
	sourceIDs, err := d.listDataSources(ctx, knowledgeBaseID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list data sources of knowledge base %q", knowledgeBaseID)
	}

	report := &Report{
		KnowledgeBaseID: knowledgeBaseID,
		Triggers:        make([]Trigger, len(sourceIDs)),
	}
	if len(sourceIDs) == 0 {
		d.log.WithField("knowledge-base-id", knowledgeBaseID).Info("Knowledge base has no data sources, nothing to ingest")
		return report, nil
	}

	// Each worker writes only its own slot, so the report order matches
	// enumeration order regardless of completion order.
	group := workgroup.Bounded(ctx, d.concurrency)
	for i, sourceID := range sourceIDs {
		i, sourceID := i, sourceID
		group.Work(func(ctx context.Context) error {
			report.Triggers[i] = d.trigger(ctx, knowledgeBaseID, sourceID)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		// Workers never return errors; this fires only on context
		// cancellation while waiting for a slot.
		return nil, errors.Wrap(err, "trigger fan-out interrupted")
	}

	for _, t := range report.Triggers {
		d.log.Info(t.StatusLine())
	}
	return report, nil
}

func (d *Dispatcher) trigger(ctx context.Context, knowledgeBaseID, sourceID string) Trigger {
	ctx, cancel := d.perCall(ctx)
	defer cancel()

	out, err := d.api.StartIngestionJobWithContext(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(sourceID),
		ClientToken:     aws.String(uuid.NewString()),
	})
	if err != nil {
		return Trigger{DataSourceID: sourceID, Err: err}
	}
	if out.IngestionJob == nil {
		return Trigger{DataSourceID: sourceID, Err: errors.New("control plane accepted the trigger but returned no ingestion job")}
	}
	return Trigger{
		DataSourceID:   sourceID,
		IngestionJobID: aws.StringValue(out.IngestionJob.IngestionJobId),
	}
}

func (d *Dispatcher) listDataSources(ctx context.Context, knowledgeBaseID string) ([]string, error) {
	ctx, cancel := d.perCall(ctx)
	defer cancel()

	var ids []string
	input := &bedrockagent.ListDataSourcesInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		MaxResults:      aws.Int64(d.pageSize),
	}
	err := d.api.ListDataSourcesPagesWithContext(ctx, input,
		func(page *bedrockagent.ListDataSourcesOutput, lastPage bool) bool {
			for _, summary := range page.DataSourceSummaries {
				ids = append(ids, aws.StringValue(summary.DataSourceId))
			}
			return true
		})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
