package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Brief is the structured summary of a new job request.
type Brief struct {
	Headline     string `json:"headline"`
	Details      string `json:"details"`
	Address      string `json:"address"`
	TimeEstimate string `json:"time_estimate"`
	CostEstimate string `json:"cost_estimate"`
}

// BriefTool assembles a project brief. It has no side effects.
type BriefTool struct{}

func (t *BriefTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: string(CreateBrief),
		Desc: "Create a project brief for a new job once you know what needs to be done and where.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"headline":      {Desc: "One-line summary of the job", Type: schema.String, Required: true},
			"details":       {Desc: "What needs to be done, materials, constraints", Type: schema.String, Required: true},
			"address":       {Desc: "Where the job will be done", Type: schema.String, Required: true},
			"time_estimate": {Desc: "Expected duration, e.g. \"2 days\"", Type: schema.String, Required: true},
			"cost_estimate": {Desc: "Expected cost range, e.g. \"$400-$600\"", Type: schema.String, Required: true},
		}),
	}, nil
}

func (t *BriefTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var b Brief
	if err := json.Unmarshal([]byte(argumentsInJSON), &b); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	checks := []struct {
		field    string
		value    string
		min, max int
	}{
		{"headline", b.Headline, 5, 120},
		{"details", b.Details, 10, 2000},
		{"address", b.Address, 5, 300},
		{"time_estimate", b.TimeEstimate, 1, 100},
		{"cost_estimate", b.CostEstimate, 1, 100},
	}
	for _, c := range checks {
		if err := checkLength(c.field, c.value, c.min, c.max); err != nil {
			return "", err
		}
	}

	b = Brief{
		Headline:     strings.TrimSpace(b.Headline),
		Details:      strings.TrimSpace(b.Details),
		Address:      strings.TrimSpace(b.Address),
		TimeEstimate: strings.TrimSpace(b.TimeEstimate),
		CostEstimate: strings.TrimSpace(b.CostEstimate),
	}
	return encodeResult(b)
}
