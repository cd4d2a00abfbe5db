package mdm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
)

// RemoteEvaluator asks an external rule service to score the three axes.
type RemoteEvaluator struct {
	client *http.Client
	url    string
	policy httpclient.Policy
}

func NewRemoteEvaluator(client *http.Client, url string, policy httpclient.Policy) *RemoteEvaluator {
	return &RemoteEvaluator{client: client, url: url, policy: policy}
}

type ruleRequest struct {
	Query string        `json:"query"`
	Facts ClinicalFacts `json:"facts"`
}

type ruleResponse struct {
	Problems string `json:"problems"`
	Data     string `json:"data"`
	Risk     string `json:"risk"`
}

func (e *RemoteEvaluator) Name() string { return "remote" }

func (e *RemoteEvaluator) Evaluate(ctx context.Context, facts ClinicalFacts) (AxisLevels, error) {
	resp, err := httpclient.PostWithRetry(ctx, e.client, e.url,
		ruleRequest{Query: "mdm_levels", Facts: facts}, nil, e.policy)
	if err != nil {
		return AxisLevels{}, fmt.Errorf("rule service: %w", err)
	}

	var body ruleResponse
	if err := resp.Decode(&body); err != nil {
		return AxisLevels{}, fmt.Errorf("rule service response: %w", err)
	}

	var levels AxisLevels
	if levels.Problems, err = ParseLevel(body.Problems); err != nil {
		return AxisLevels{}, fmt.Errorf("rule service problems: %w", err)
	}
	if levels.Data, err = ParseLevel(body.Data); err != nil {
		return AxisLevels{}, fmt.Errorf("rule service data: %w", err)
	}
	if levels.Risk, err = ParseLevel(body.Risk); err != nil {
		return AxisLevels{}, fmt.Errorf("rule service risk: %w", err)
	}
	return levels, nil
}
