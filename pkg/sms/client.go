// Package sms provides a client for the SOAP-based SMS gateway.
//
// The gateway is treated as a black box: Send returns an HTTP-style status
// code plus a short detail string, and the caller decides what to do with it.
package sms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config holds the gateway credentials and endpoint.
type Config struct {
	URL        string
	Username   string
	Password   string
	SenderID   string
	TemplateID string
	Enabled    bool
}

// Client represents an SMS gateway client.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a new SMS gateway client with the given send timeout.
func NewClient(cfg Config, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

const envelope = `<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
                 xmlns:xsd="http://www.w3.org/2001/XMLSchema"
                 xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
    <soap12:Body>
        <sendSingleSMS xmlns="http://tempuri.org/">
            <username>%s</username>
            <password>%s</password>
            <senderid>%s</senderid>
            <mobileNos>%s</mobileNos>
            <message>%s</message>
            <templateid1>%s</templateid1>
        </sendSingleSMS>
    </soap12:Body>
</soap12:Envelope>`

// Send performs one delivery attempt to the gateway.
//
// Status codes: 200 delivered, 401 rejected credentials, 408 timeout,
// 502 connection failure, 500 other transport error. When the gateway is
// disabled or has no URL the send is skipped and reported as delivered.
func (c *Client) Send(ctx context.Context, mobile, message string) (int, string) {
	if !c.cfg.Enabled || c.cfg.URL == "" {
		return http.StatusOK, "sms skipped (disabled or missing gateway url)"
	}

	body := fmt.Sprintf(envelope,
		c.cfg.Username, c.cfg.Password, c.cfg.SenderID, mobile, message, c.cfg.TemplateID,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewBufferString(body))
	if err != nil {
		return http.StatusInternalServerError, fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			return http.StatusRequestTimeout, "gateway request timed out"
		case errors.Is(err, context.DeadlineExceeded):
			return http.StatusRequestTimeout, "gateway request timed out"
		default:
			return http.StatusBadGateway, fmt.Sprintf("gateway connection failed: %v", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Sprintf("gateway responded with %s", resp.Status)
	}

	return http.StatusOK, "delivered"
}
