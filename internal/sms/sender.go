package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"sms-auth-service/internal/config"
	"sms-auth-service/internal/util"
)

var ErrSendFailed = errors.New("sms send failed")

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// NewSender picks the provider from configuration. Anything other than
// "http" gets the log sender, which only writes to the service log.
func NewSender(cfg *config.Config) Sender {
	if cfg.SMS.Provider == "http" {
		return NewHTTPSender(cfg)
	}
	return &LogSender{}
}

// LogSender is the development provider. It never fails.
type LogSender struct{}

func (s *LogSender) Send(ctx context.Context, to, body string) error {
	util.Info("sms (log provider)",
		zap.String("to", to),
		zap.String("body", body))
	return nil
}

// HTTPSender posts messages to a Twilio-style REST gateway using basic
// auth. The gateway accepts form-encoded To/From/Body fields.
type HTTPSender struct {
	apiURL    string
	accountID string
	authToken string
	from      string
	client    *http.Client
}

func NewHTTPSender(cfg *config.Config) *HTTPSender {
	return &HTTPSender{
		apiURL:    cfg.SMS.APIURL,
		accountID: cfg.SMS.AccountID,
		authToken: cfg.SMS.AuthToken,
		from:      cfg.SMS.From,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *HTTPSender) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountID, s.authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		util.Error("sms gateway rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("to", to))
		return fmt.Errorf("%w: gateway returned %d", ErrSendFailed, resp.StatusCode)
	}

	util.Debug("sms sent", zap.String("to", to))
	return nil
}
