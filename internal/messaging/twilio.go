package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the account's phone number, without channel prefix.
	From string
	// WhatsApp prefixes both numbers with "whatsapp:".
	WhatsApp bool
	// BaseURL redirects API calls, e.g. to a regional proxy. Empty means api.twilio.com.
	BaseURL string
	Timeout time.Duration
}

// Twilio sends messages through the Twilio Messages REST resource.
type Twilio struct {
	cfg  TwilioConfig
	rest *twilio.RestClient
}

func NewTwilio(cfg TwilioConfig, httpClient *http.Client) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("twilio account sid, auth token and from number are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	if httpClient != nil {
		cp := *httpClient
		cp.Timeout = cfg.Timeout
		hc = &cp
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
		if err != nil || base.Host == "" {
			return nil, fmt.Errorf("twilio base url %q is invalid", cfg.BaseURL)
		}
		hc.Transport = &rebaseTransport{base: base, next: hc.Transport}
	}

	c := &client.Client{
		Credentials: client.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  hc,
	}
	c.SetAccountSid(cfg.AccountSID)

	return &Twilio{
		cfg:  cfg,
		rest: twilio.NewRestClientWithParams(twilio.ClientParams{Client: c}),
	}, nil
}

// Send posts one message. The SDK call takes no context, so ctx is only checked
// before sending; the configured timeout bounds the request itself.
func (t *Twilio) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetPathAccountSid(t.cfg.AccountSID)
	params.SetFrom(t.address(t.cfg.From))
	params.SetTo(t.address(to))
	params.SetBody(body)

	if _, err := t.rest.Api.CreateMessage(params); err != nil {
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) {
			return fmt.Errorf("twilio status %d (code %d): %s", restErr.Status, restErr.Code, restErr.Message)
		}
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

func (t *Twilio) address(number string) string {
	number = strings.TrimPrefix(number, "whatsapp:")
	if t.cfg.WhatsApp {
		return "whatsapp:" + number
	}
	return number
}

// rebaseTransport sends every request to base, keeping path and query.
type rebaseTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (rt *rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.base.Scheme
	out.URL.Host = rt.base.Host
	out.URL.Path = rt.base.Path + req.URL.Path
	out.Host = rt.base.Host

	next := rt.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(out)
}
