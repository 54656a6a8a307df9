package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestCreateCall_SendsProviderParams(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		got = r.PostForm
		if u, _, ok := r.BasicAuth(); !ok || u != "AC1" {
			t.Fatalf("expected basic auth with account sid")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA777"}`))
	}))
	defer srv.Close()

	c := NewRestClient("AC1", "tok", WithAPIBase(srv.URL))
	sid, err := c.CreateCall(context.Background(), CreateCallParams{
		To:               "+18008066453",
		From:             "+15550001111",
		AnswerURL:        "https://app.example.com/api/twiml/connect-human",
		StatusWebhookURL: "https://app.example.com/api/webhooks/call-status",
		NativeAMD:        true,
	})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	if sid != "CA777" {
		t.Fatalf("sid = %q", sid)
	}

	if got.Get("To") != "+18008066453" || got.Get("From") != "+15550001111" {
		t.Fatalf("unexpected to/from: %v", got)
	}
	if got.Get("MachineDetection") != "Enable" || got.Get("MachineDetectionTimeout") != "20" {
		t.Fatalf("expected native AMD with default timeout, got %v", got)
	}
	events := got["StatusCallbackEvent"]
	if len(events) != 4 {
		t.Fatalf("expected 4 status events, got %v", events)
	}
}

func TestCreateCall_NoNativeAMDParamsForMLStrategy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("MachineDetection") != "" {
			t.Fatalf("did not expect MachineDetection param")
		}
		_, _ = w.Write([]byte(`{"sid":"CA1"}`))
	}))
	defer srv.Close()

	c := NewRestClient("AC1", "tok", WithAPIBase(srv.URL))
	if _, err := c.CreateCall(context.Background(), CreateCallParams{To: "+1", From: "+2"}); err != nil {
		t.Fatalf("create call: %v", err)
	}
}

func TestCreateCall_DecodesProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21219,"message":"The number +18007742678 is unverified.","status":400}`))
	}))
	defer srv.Close()

	c := NewRestClient("AC1", "tok", WithAPIBase(srv.URL))
	_, err := c.CreateCall(context.Background(), CreateCallParams{To: "+18007742678", From: "+1"})
	pe, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Code != CodeUnverifiedTrialDestination {
		t.Fatalf("code = %d", pe.Code)
	}
}

func TestPost_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' number","status":400}`))
	}))
	defer srv.Close()

	c := NewRestClient("AC1", "tok", WithAPIBase(srv.URL))
	if err := c.TerminateCall(context.Background(), "CA1"); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly 1 attempt for a 4xx, got %d", n)
	}
}

func TestPost_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewRestClient("AC1", "tok", WithAPIBase(srv.URL))
	c.backoff = 0
	if err := c.RedirectCall(context.Background(), "CA1", "https://app.example.com/api/twiml/connect-human"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}
