package message

import (
	"context"
	"net/http"

	"github.com/wb-go/wbf/zlog"

	"github.com/notifygw/notify-gateway/internal/model"
	"github.com/notifygw/notify-gateway/internal/ratelimit"
	"github.com/notifygw/notify-gateway/pkg/email"
	"github.com/notifygw/notify-gateway/pkg/sms"
)

type smsClient interface {
	Send(ctx context.Context, mobile, message string) (int, string)
}

type emailClient interface {
	Send(to, subject, body string) (int, string)
}

// SMSTransport delivers SMS messages through the SOAP gateway, throttling
// per recipient so retries cannot flood one number.
type SMSTransport struct {
	client   smsClient
	throttle ratelimit.Counter
	window   int // seconds
	limit    int
}

// NewSMSTransport wraps the SMS gateway client. throttle may be nil to
// disable per-recipient throttling.
func NewSMSTransport(client *sms.Client, throttle ratelimit.Counter, windowSecs, limit int) *SMSTransport {
	if windowSecs <= 0 {
		windowSecs = 10
	}
	if limit <= 0 {
		limit = 1
	}
	return &SMSTransport{
		client:   client,
		throttle: throttle,
		window:   windowSecs,
		limit:    limit,
	}
}

func (t *SMSTransport) Send(ctx context.Context, m model.Message) (int, string) {
	if t.throttle != nil {
		allowed, err := t.throttle.CheckAndIncrement("sms:"+m.To, t.window, t.limit)
		if err != nil {
			zlog.Logger.Error().Err(err).Str("to", m.To).Msg("sms throttle check failed")
		} else if !allowed {
			return http.StatusTooManyRequests, "recipient throttled"
		}
	}

	return t.client.Send(ctx, m.To, m.Body)
}

// EmailTransport delivers email messages over SMTP.
type EmailTransport struct {
	client emailClient
}

func NewEmailTransport(client *email.Client) *EmailTransport {
	return &EmailTransport{client: client}
}

func (t *EmailTransport) Send(ctx context.Context, m model.Message) (int, string) {
	return t.client.Send(m.To, m.Subject, m.Body)
}
