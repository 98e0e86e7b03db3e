// Package invoke sends a prompt to an agent through the runtime plane and
// collects the streamed completion.
package invoke

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go/service/bedrockagentruntime/bedrockagentruntimeiface"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"agentctl/pkg/logging"
)

// Invoker drives a single-turn agent invocation.
type Invoker struct {
	api bedrockagentruntimeiface.BedrockAgentRuntimeAPI
	log logging.Logger
}

// NewInvoker returns an Invoker backed by the given runtime client.
func NewInvoker(api bedrockagentruntimeiface.BedrockAgentRuntimeAPI, log logging.Logger) *Invoker {
	return &Invoker{api: api, log: log}
}

// completionStream is the part of the SDK's event stream the Invoker reads.
type completionStream interface {
	Events() <-chan bedrockagentruntime.ResponseStreamEvent
	Err() error
	Close() error
}

// Invoke sends prompt to the agent addressed by (agentID, aliasID) under a
// fresh session and returns the concatenated completion text.
func (i *Invoker) Invoke(ctx context.Context, agentID, aliasID, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	sessionID := uuid.NewString()
	i.log.WithField("agent-id", agentID).
		WithField("alias-id", aliasID).
		WithField("session-id", sessionID).
		Info("Invoking agent")

	out, err := i.api.InvokeAgentWithContext(ctx, &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(agentID),
		AgentAliasId: aws.String(aliasID),
		SessionId:    aws.String(sessionID),
		InputText:    aws.String(prompt),
		EnableTrace:  aws.Bool(false),
		EndSession:   aws.Bool(false),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to invoke agent %q", agentID)
	}

	return drainCompletion(out.GetStream())
}

// drainCompletion reads the event stream to exhaustion and concatenates
// the completion chunks.
func drainCompletion(stream completionStream) (string, error) {
	defer stream.Close()

	var completion bytes.Buffer
	for event := range stream.Events() {
		if part, ok := event.(*bedrockagentruntime.PayloadPart); ok {
			completion.Write(part.Bytes)
		}
	}
	if err := stream.Err(); err != nil {
		return "", errors.Wrap(err, "completion stream failed")
	}
	return completion.String(), nil
}
