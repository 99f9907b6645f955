package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type availabilityArgs struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
}

type availabilityResult struct {
	Description  string   `json:"description,omitempty"`
	Availability []string `json:"availability,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// AvailabilityTool asks the calendar backend for open slots in a date range.
type AvailabilityTool struct {
	client *SchedulingClient
	url    string
}

func NewAvailabilityTool(client *SchedulingClient, url string) *AvailabilityTool {
	return &AvailabilityTool{client: client, url: url}
}

func (t *AvailabilityTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: string(CheckAvailability),
		Desc: "Check open appointment slots in the calendar between two dates. " +
			"Dates must be in MM/DD/YYYY format (e.g. 11/22/2024); convert what the customer says before calling.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"start_date": {
				Desc:     "First day to check, MM/DD/YYYY",
				Type:     schema.String,
				Required: true,
			},
			"end_date": {
				Desc:     "Last day to check, MM/DD/YYYY. Omit to check a single day.",
				Type:     schema.String,
				Required: false,
			},
		}),
	}, nil
}

func (t *AvailabilityTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args availabilityArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	start, err := parseDate("start_date", args.StartDate)
	if err != nil {
		return "", err
	}
	req := availabilityArgs{StartDate: start.Format(canonicalDate)}
	if strings.TrimSpace(args.EndDate) != "" {
		end, err := parseDate("end_date", args.EndDate)
		if err != nil {
			return "", err
		}
		if end.Before(start) {
			return "", &ArgumentError{Field: "end_date", Reason: "must not be before start_date"}
		}
		req.EndDate = end.Format(canonicalDate)
	}

	status, body, err := t.client.PostJSON(ctx, t.url, req)
	if err != nil {
		return "", err
	}
	if status != 200 {
		return encodeResult(availabilityResult{Error: fmt.Sprintf("%d bad request", status)})
	}

	var resp struct {
		Slots json.RawMessage `json:"slots"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode availability response: %w", err)
	}
	slots, err := flattenSlots(resp.Slots)
	if err != nil {
		return "", err
	}
	if len(slots) == 0 {
		return encodeResult(availabilityResult{Error: "No availability found"})
	}

	desc := fmt.Sprintf("%d open slots starting %s", len(slots), req.StartDate)
	if req.EndDate != "" {
		desc = fmt.Sprintf("%d open slots between %s and %s", len(slots), req.StartDate, req.EndDate)
	}
	return encodeResult(availabilityResult{Description: desc, Availability: slots})
}

// flattenSlots accepts the shapes the backend has returned over time (a list, a list of
// lists, or a day -> list map) and returns one sorted list without duplicates.
func flattenSlots(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}

	seen := make(map[string]struct{})
	var walk func(any)
	walk = func(x any) {
		switch x := x.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				seen[s] = struct{}{}
			}
		case []any:
			for _, e := range x {
				walk(e)
			}
		case map[string]any:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(v)

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func encodeResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}
