// Package tools declares the actions a worker can ask for and the wrappers that keep
// tool failures inside the conversation.
package tools

import "time"

// Name identifies a registered tool. The set is closed.
type Name string

const (
	CheckAvailability Name = "check_availability"
	BookAppointment   Name = "book_appointment"
	CreateBrief       Name = "create_brief"
)

// All lists every known tool in registration order.
var All = []Name{CheckAvailability, BookAppointment, CreateBrief}

func (n Name) Valid() bool {
	switch n {
	case CheckAvailability, BookAppointment, CreateBrief:
		return true
	}
	return false
}

// Config carries the scheduling backend endpoints.
type Config struct {
	AvailabilityURL string        `mapstructure:"availability_url"`
	BookingURL      string        `mapstructure:"booking_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}
