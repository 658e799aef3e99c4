package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sms-auth-service/internal/config"
)

func newHTTPSenderFor(url string) *HTTPSender {
	cfg := &config.Config{}
	cfg.SMS.Provider = "http"
	cfg.SMS.APIURL = url
	cfg.SMS.AccountID = "acct-1"
	cfg.SMS.AuthToken = "secret"
	cfg.SMS.From = "+15005550006"
	return NewHTTPSender(cfg)
}

func TestHTTPSenderPostsForm(t *testing.T) {
	var gotTo, gotBody, gotFrom string
	var gotUser, gotPass string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotBody = r.PostFormValue("Body")
		gotFrom = r.PostFormValue("From")
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := newHTTPSenderFor(srv.URL)
	if err := s.Send(context.Background(), "+34600111222", "Tu codigo es 123456"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotTo != "+34600111222" {
		t.Errorf("To = %q", gotTo)
	}
	if gotBody != "Tu codigo es 123456" {
		t.Errorf("Body = %q", gotBody)
	}
	if gotFrom != "+15005550006" {
		t.Errorf("From = %q", gotFrom)
	}
	if gotUser != "acct-1" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
}

func TestHTTPSenderGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := newHTTPSenderFor(srv.URL)
	err := s.Send(context.Background(), "+34600111222", "hola")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}

func TestNewSenderDefaultsToLog(t *testing.T) {
	cfg := &config.Config{}
	cfg.SMS.Provider = "log"
	if _, ok := NewSender(cfg).(*LogSender); !ok {
		t.Fatal("expected LogSender for log provider")
	}
}
