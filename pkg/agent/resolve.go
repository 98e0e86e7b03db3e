// Package agent resolves human-readable agent names into the identifiers
// the control plane operates on. Resolution is staged: name to agent id,
// agent id to its latest version, (id, version) to the associated knowledge
// base. Each stage requires a non-empty result from the prior one; an empty
// listing is a NotFoundError and the pipeline halts there.
package agent

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/bedrockagent"
	"github.com/aws/aws-sdk-go/service/bedrockagent/bedrockagentiface"
	"github.com/pkg/errors"

	"agentctl/pkg/logging"
)

// DefaultPageSize is the listing page size used when none is configured.
const DefaultPageSize = 100

// Resolver performs the staged lookups against the agent control plane.
// Nothing is cached between calls; every resolution starts from scratch.
type Resolver struct {
	api      bedrockagentiface.BedrockAgentAPI
	log      logging.Logger
	pageSize int64
}

// NewResolver returns a Resolver backed by the given control-plane client.
// pageSize values of zero or less fall back to DefaultPageSize.
func NewResolver(api bedrockagentiface.BedrockAgentAPI, log logging.Logger, pageSize int64) *Resolver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Resolver{api: api, log: log, pageSize: pageSize}
}

// AgentID resolves an agent name to its id. Matching is exact and
// case-sensitive against the agent's name field. When more than one agent
// carries the same name the first listed match wins and the duplicates are
// logged, since the control plane does not enforce name uniqueness.
func (r *Resolver) AgentID(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("agent name must not be empty")
	}

	var matches []*bedrockagent.AgentSummary
	input := &bedrockagent.ListAgentsInput{MaxResults: aws.Int64(r.pageSize)}
	err := r.api.ListAgentsPagesWithContext(ctx, input,
		func(page *bedrockagent.ListAgentsOutput, lastPage bool) bool {
			for _, summary := range page.AgentSummaries {
				if aws.StringValue(summary.AgentName) == name {
					matches = append(matches, summary)
				}
			}
			return true
		})
	if err != nil {
		return "", errors.Wrap(err, "failed to list agents")
	}

	if len(matches) == 0 {
		return "", &NotFoundError{Resource: "agent", Input: name}
	}
	if len(matches) > 1 {
		r.log.WithField("agent-name", name).
			Warnf("%d agents share this name, using the first listed", len(matches))
	}

	id := aws.StringValue(matches[0].AgentId)
	r.log.WithField("agent-name", name).WithField("agent-id", id).Info("Resolved agent")
	return id, nil
}

// LatestVersion resolves an agent id to its most recent version token. The
// control plane's listing order is trusted as returned; the first summary
// of the first page is taken without client-side recency computation.
func (r *Resolver) LatestVersion(ctx context.Context, agentID string) (string, error) {
	out, err := r.api.ListAgentVersionsWithContext(ctx, &bedrockagent.ListAgentVersionsInput{
		AgentId:    aws.String(agentID),
		MaxResults: aws.Int64(r.pageSize),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to list versions of agent %q", agentID)
	}
	if len(out.AgentVersionSummaries) == 0 {
		return "", &NotFoundError{Resource: "agent version", Input: agentID}
	}

	version := aws.StringValue(out.AgentVersionSummaries[0].AgentVersion)
	r.log.WithField("agent-id", agentID).WithField("version", version).Info("Resolved agent version")
	return version, nil
}

// KnowledgeBase resolves the knowledge base associated with an agent
// version. An agent version is expected to carry a single association;
// extra entries are truncated to the first and logged.
func (r *Resolver) KnowledgeBase(ctx context.Context, agentID, version string) (string, error) {
	out, err := r.api.ListAgentKnowledgeBasesWithContext(ctx, &bedrockagent.ListAgentKnowledgeBasesInput{
		AgentId:      aws.String(agentID),
		AgentVersion: aws.String(version),
		MaxResults:   aws.Int64(r.pageSize),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to list knowledge bases of agent %q version %q", agentID, version)
	}
	if len(out.AgentKnowledgeBaseSummaries) == 0 {
		return "", &NotFoundError{Resource: "knowledge base", Input: agentID}
	}
	if len(out.AgentKnowledgeBaseSummaries) > 1 {
		r.log.WithField("agent-id", agentID).
			Warnf("%d knowledge bases associated, using the first listed", len(out.AgentKnowledgeBaseSummaries))
	}

	kbID := aws.StringValue(out.AgentKnowledgeBaseSummaries[0].KnowledgeBaseId)
	r.log.WithField("agent-id", agentID).WithField("knowledge-base-id", kbID).Info("Resolved knowledge base")
	return kbID, nil
}

// AliasID resolves the first listed alias of an agent, used to address the
// agent through the runtime plane.
func (r *Resolver) AliasID(ctx context.Context, agentID string) (string, error) {
	out, err := r.api.ListAgentAliasesWithContext(ctx, &bedrockagent.ListAgentAliasesInput{
		AgentId:    aws.String(agentID),
		MaxResults: aws.Int64(r.pageSize),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to list aliases of agent %q", agentID)
	}
	if len(out.AgentAliasSummaries) == 0 {
		return "", &NotFoundError{Resource: "agent alias", Input: agentID}
	}

	aliasID := aws.StringValue(out.AgentAliasSummaries[0].AgentAliasId)
	r.log.WithField("agent-id", agentID).WithField("alias-id", aliasID).Info("Resolved agent alias")
	return aliasID, nil
}
