package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/bedrockagent"
	"github.com/aws/aws-sdk-go/service/bedrockagent/bedrockagentiface"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	"agentctl/pkg/agent"
	"agentctl/pkg/config"
	"agentctl/pkg/ingest"
	"agentctl/pkg/logging"
)

type testingOutput struct {
	t *testing.T
}

func (o *testingOutput) Write(p []byte) (n int, err error) {
	o.t.Logf("%s", p)
	return len(p), nil
}

func testLogger(t *testing.T) logging.Logger {
	l := logrus.New()
	l.SetOutput(&testingOutput{t})
	return l.WithField("component", "test")
}

// fakeControlPlane models one agent with one version, one knowledge base
// and a set of data sources, enough to run the whole pipeline end to end.
type fakeControlPlane struct {
	bedrockagentiface.BedrockAgentAPI

	agentName   string
	agentID     string
	version     string
	kbID        string
	dataSources []string
	failing     map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeControlPlane) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeControlPlane) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeControlPlane) ListAgentsPagesWithContext(ctx aws.Context, input *bedrockagent.ListAgentsInput, fn func(*bedrockagent.ListAgentsOutput, bool) bool, opts ...request.Option) error {
	f.record("ListAgents")
	fn(&bedrockagent.ListAgentsOutput{AgentSummaries: []*bedrockagent.AgentSummary{
		{AgentId: aws.String(f.agentID), AgentName: aws.String(f.agentName)},
	}}, true)
	return nil
}

func (f *fakeControlPlane) ListAgentVersionsWithContext(ctx aws.Context, input *bedrockagent.ListAgentVersionsInput, opts ...request.Option) (*bedrockagent.ListAgentVersionsOutput, error) {
	f.record("ListAgentVersions")
	return &bedrockagent.ListAgentVersionsOutput{AgentVersionSummaries: []*bedrockagent.AgentVersionSummary{
		{AgentVersion: aws.String(f.version)},
	}}, nil
}

func (f *fakeControlPlane) ListAgentKnowledgeBasesWithContext(ctx aws.Context, input *bedrockagent.ListAgentKnowledgeBasesInput, opts ...request.Option) (*bedrockagent.ListAgentKnowledgeBasesOutput, error) {
	f.record("ListAgentKnowledgeBases")
	return &bedrockagent.ListAgentKnowledgeBasesOutput{AgentKnowledgeBaseSummaries: []*bedrockagent.AgentKnowledgeBaseSummary{
		{KnowledgeBaseId: aws.String(f.kbID)},
	}}, nil
}

func (f *fakeControlPlane) ListDataSourcesPagesWithContext(ctx aws.Context, input *bedrockagent.ListDataSourcesInput, fn func(*bedrockagent.ListDataSourcesOutput, bool) bool, opts ...request.Option) error {
	f.record("ListDataSources")
	summaries := make([]*bedrockagent.DataSourceSummary, 0, len(f.dataSources))
	for _, id := range f.dataSources {
		summaries = append(summaries, &bedrockagent.DataSourceSummary{DataSourceId: aws.String(id)})
	}
	fn(&bedrockagent.ListDataSourcesOutput{DataSourceSummaries: summaries}, true)
	return nil
}

func (f *fakeControlPlane) StartIngestionJobWithContext(ctx aws.Context, input *bedrockagent.StartIngestionJobInput, opts ...request.Option) (*bedrockagent.StartIngestionJobOutput, error) {
	f.record("StartIngestionJob")
	sourceID := aws.StringValue(input.DataSourceId)
	if f.failing[sourceID] {
		return nil, errors.New("trigger rejected")
	}
	return &bedrockagent.StartIngestionJobOutput{
		IngestionJob: &bedrockagent.IngestionJob{IngestionJobId: aws.String("job-" + sourceID)},
	}, nil
}

func testPipeline(t *testing.T, api bedrockagentiface.BedrockAgentAPI) (*agent.Resolver, *ingest.Dispatcher) {
	return agent.NewResolver(api, testLogger(t), 0),
		ingest.NewDispatcher(api, testLogger(t), 2, 0, 0)
}

// withFakeControlPlane points the commands at a fake for the duration of
// the test.
func withFakeControlPlane(t *testing.T, fake bedrockagentiface.BedrockAgentAPI) {
	orig := newControlPlane
	newControlPlane = func(*config.Config) (bedrockagentiface.BedrockAgentAPI, error) {
		return fake, nil
	}
	t.Cleanup(func() { newControlPlane = orig })
}

func exitCodeOf(t *testing.T, err error) int {
	coder, ok := err.(cli.ExitCoder)
	if !ok {
		t.Fatalf("expected an exit coder, got %v", err)
	}
	return coder.ExitCode()
}

func TestSyncAgent(t *testing.T) {
	fake := &fakeControlPlane{
		agentName:   "DateTimeAgent",
		agentID:     "A1B2",
		version:     "3",
		kbID:        "KB9",
		dataSources: []string{"DS1", "DS2"},
	}
	resolver, dispatcher := testPipeline(t, fake)

	report, err := syncAgent(context.Background(), resolver, dispatcher, "DateTimeAgent", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, "KB9", report.KnowledgeBaseID)
	assert.Len(t, report.Triggers, 2)
	assert.Equal(t, 0, report.Failed())
	assert.Equal(t, 2, fake.callCount("StartIngestionJob"))
}

func TestSyncAgentUnknownNameHaltsAtStageOne(t *testing.T) {
	fake := &fakeControlPlane{
		agentName: "DateTimeAgent",
		agentID:   "A1B2",
	}
	resolver, dispatcher := testPipeline(t, fake)

	_, err := syncAgent(context.Background(), resolver, dispatcher, "NoSuchAgent", time.Second)
	assert.True(t, agent.IsNotFound(err))

	// No remote calls past the failed stage.
	assert.Equal(t, 1, fake.callCount("ListAgents"))
	assert.Equal(t, 0, fake.callCount("ListAgentVersions"))
	assert.Equal(t, 0, fake.callCount("ListAgentKnowledgeBases"))
	assert.Equal(t, 0, fake.callCount("StartIngestionJob"))
}

func TestSyncAgentEmptyKnowledgeBaseIsANoOp(t *testing.T) {
	fake := &fakeControlPlane{
		agentName: "DateTimeAgent",
		agentID:   "A1B2",
		version:   "3",
		kbID:      "KB9",
	}
	resolver, dispatcher := testPipeline(t, fake)

	report, err := syncAgent(context.Background(), resolver, dispatcher, "DateTimeAgent", time.Second)
	assert.NoError(t, err)
	assert.Empty(t, report.Triggers)
	assert.Equal(t, 0, fake.callCount("StartIngestionJob"))
}

func TestSyncAgentPartialTriggerFailureIsNotFatal(t *testing.T) {
	fake := &fakeControlPlane{
		agentName:   "DateTimeAgent",
		agentID:     "A1B2",
		version:     "3",
		kbID:        "KB9",
		dataSources: []string{"DS1", "DS2"},
		failing:     map[string]bool{"DS2": true},
	}
	resolver, dispatcher := testPipeline(t, fake)

	report, err := syncAgent(context.Background(), resolver, dispatcher, "DateTimeAgent", time.Second)
	assert.NoError(t, err)
	assert.Len(t, report.Triggers, 2)
	assert.Equal(t, 1, report.Failed())
	assert.True(t, report.Triggers[0].Accepted())
	assert.False(t, report.Triggers[1].Accepted())
	assert.Equal(t, 2, fake.callCount("StartIngestionJob"))
}

func TestSyncCommandRequiresAgentName(t *testing.T) {
	err := newApp().RunContext(context.Background(), []string{"agentctl", "sync"})
	assert.Error(t, err)
	assert.Equal(t, 1, exitCodeOf(t, err))
}

func TestInvokeCommandRequiresNameAndPrompt(t *testing.T) {
	err := newApp().RunContext(context.Background(), []string{"agentctl", "invoke", "DateTimeAgent"})
	assert.Error(t, err)
	assert.Equal(t, 1, exitCodeOf(t, err))
}

func TestSyncCommandUnknownAgentExitsOne(t *testing.T) {
	withFakeControlPlane(t, &fakeControlPlane{
		agentName: "DateTimeAgent",
		agentID:   "A1B2",
	})

	err := newApp().RunContext(context.Background(), []string{"agentctl", "sync", "NoSuchAgent"})
	assert.Error(t, err)
	assert.Equal(t, 1, exitCodeOf(t, err))
	assert.Contains(t, err.Error(), "NoSuchAgent")
}

func TestSyncCommandSucceeds(t *testing.T) {
	fake := &fakeControlPlane{
		agentName:   "DateTimeAgent",
		agentID:     "A1B2",
		version:     "3",
		kbID:        "KB9",
		dataSources: []string{"DS1", "DS2"},
	}
	withFakeControlPlane(t, fake)

	err := newApp().RunContext(context.Background(), []string{"agentctl", "sync", "DateTimeAgent"})
	assert.NoError(t, err)
	assert.Equal(t, 2, fake.callCount("StartIngestionJob"))
}

func TestSyncCommandPartialTriggerFailureStillSucceeds(t *testing.T) {
	fake := &fakeControlPlane{
		agentName:   "DateTimeAgent",
		agentID:     "A1B2",
		version:     "3",
		kbID:        "KB9",
		dataSources: []string{"DS1", "DS2"},
		failing:     map[string]bool{"DS2": true},
	}
	withFakeControlPlane(t, fake)

	err := newApp().RunContext(context.Background(), []string{"agentctl", "sync", "DateTimeAgent"})
	assert.NoError(t, err)
	assert.Equal(t, 2, fake.callCount("StartIngestionJob"))
}
