package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type bookingArgs struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Date    string `json:"date"`
	Address string `json:"address"`
}

// BookingTool books an appointment on the calendar backend.
type BookingTool struct {
	client *SchedulingClient
	url    string
}

func NewBookingTool(client *SchedulingClient, url string) *BookingTool {
	return &BookingTool{client: client, url: url}
}

func (t *BookingTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: string(BookAppointment),
		Desc: "Book an appointment for the customer. Only call this after confirming the slot is available " +
			"and you have the customer's name, email and address.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"name": {
				Desc:     "Name of the person or company booking the appointment",
				Type:     schema.String,
				Required: true,
			},
			"email": {
				Desc:     "Email of the person or company booking the appointment",
				Type:     schema.String,
				Required: true,
			},
			"date": {
				Desc:     "Date and time of the appointment in ISO 8601 format (e.g. 2024-07-27T13:00:00.000Z)",
				Type:     schema.String,
				Required: true,
			},
			"address": {
				Desc:     "Address where the job will be done",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *BookingTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args bookingArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := checkLength("name", args.Name, 2, 100); err != nil {
		return "", err
	}
	if err := checkEmail("email", args.Email); err != nil {
		return "", err
	}
	if _, err := parseTimestamp("date", args.Date); err != nil {
		return "", err
	}
	if err := checkLength("address", args.Address, 5, 300); err != nil {
		return "", err
	}

	req := bookingArgs{
		Name:    strings.TrimSpace(args.Name),
		Email:   strings.TrimSpace(args.Email),
		Date:    strings.TrimSpace(args.Date),
		Address: strings.TrimSpace(args.Address),
	}
	status, _, err := t.client.PostJSON(ctx, t.url, req)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return fmt.Sprintf("Failed to book appointment. Status code: %d", status), nil
	}
	return "Appointment successfully booked.", nil
}
