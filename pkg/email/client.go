// Package email provides an SMTP client used as the email delivery gateway.
package email

import (
	"errors"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"gopkg.in/mail.v2"
)

// Client represents an SMTP email client.
type Client struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
}

// NewClient creates a new SMTP client.
func NewClient(smtpHost string, smtpPort int, username, password, from string) *Client {
	return &Client{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
		from:     from,
	}
}

// Send delivers one email and returns an HTTP-style status code plus a
// detail string (the generated message id on success).
//
// Status codes: 200 delivered, 401 authentication rejected, 408 timeout,
// 502 connection failure, 500 other SMTP error.
func (c *Client) Send(to, subject, body string) (int, string) {
	message := mail.NewMessage()
	message.SetHeader("From", c.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", subject)
	message.SetBody("text/plain", body)

	messageID := uuid.NewString()
	message.SetHeader("Message-ID", "<"+messageID+"@"+c.smtpHost+">")

	dialer := mail.NewDialer(c.smtpHost, c.smtpPort, c.username, c.password)
	dialer.Timeout = 30 * time.Second

	if err := dialer.DialAndSend(message); err != nil {
		return classify(err), err.Error()
	}

	return http.StatusOK, messageID
}

func classify(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		// 530/534/535 are SMTP authentication rejections.
		if tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535 {
			return http.StatusUnauthorized
		}
		return http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusRequestTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
