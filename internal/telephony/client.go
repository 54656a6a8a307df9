package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.twilio.com"

// statusEvents are the lifecycle callbacks we subscribe every call to.
var statusEvents = []string{"initiated", "ringing", "answered", "completed"}

// RestClient drives the telephony provider's REST API. It is safe for
// concurrent use and is constructed once at boot.
type RestClient struct {
	accountSID string
	authToken  string

	// apiBase is overridable for tests.
	apiBase string
	http    *http.Client

	// maxRetries bounds re-sends after transport failures. 4xx rejections
	// are never retried.
	maxRetries int
	backoff    time.Duration
}

type RestClientOption func(*RestClient)

// WithAPIBase points the client at a different API origin (tests).
func WithAPIBase(base string) RestClientOption {
	return func(c *RestClient) { c.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient swaps the underlying HTTP client (tests, custom transports).
func WithHTTPClient(h *http.Client) RestClientOption {
	return func(c *RestClient) { c.http = h }
}

func NewRestClient(accountSID, authToken string, opts ...RestClientOption) *RestClient {
	c := &RestClient{
		accountSID: accountSID,
		authToken:  authToken,
		apiBase:    defaultAPIBase,
		http:       &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RestClient) CreateCall(ctx context.Context, p CreateCallParams) (string, error) {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", p.From)
	form.Set("Url", p.AnswerURL)
	form.Set("Method", http.MethodPost)
	form.Set("StatusCallback", p.StatusWebhookURL)
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, ev := range statusEvents {
		form.Add("StatusCallbackEvent", ev)
	}
	if p.NativeAMD {
		timeout := p.NativeAMDTimeoutSeconds
		if timeout <= 0 {
			timeout = DefaultNativeAMDTimeoutSeconds
		}
		form.Set("MachineDetection", "Enable")
		form.Set("MachineDetectionTimeout", strconv.Itoa(timeout))
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := c.post(ctx, c.callsURL(""), form, &out); err != nil {
		return "", err
	}
	if out.Sid == "" {
		return "", fmt.Errorf("telephony: provider returned no call sid")
	}
	return out.Sid, nil
}

func (c *RestClient) RedirectCall(ctx context.Context, callSid, answerURL string) error {
	form := url.Values{}
	form.Set("Url", answerURL)
	form.Set("Method", http.MethodPost)
	return c.post(ctx, c.callsURL(callSid), form, nil)
}

func (c *RestClient) TerminateCall(ctx context.Context, callSid string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return c.post(ctx, c.callsURL(callSid), form, nil)
}

func (c *RestClient) callsURL(callSid string) string {
	base := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls", c.apiBase, c.accountSID)
	if callSid == "" {
		return base + ".json"
	}
	return base + "/" + callSid + ".json"
}

// post sends a form-encoded request with basic auth, retrying transport
// errors up to maxRetries. Vendor 4xx responses surface as ProviderError
// and are never retried.
func (c *RestClient) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(c.accountSID, c.authToken)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			return json.Unmarshal(body, out)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return decodeProviderError(resp.StatusCode, body)
		default:
			lastErr = fmt.Errorf("telephony: provider returned %d", resp.StatusCode)
		}
	}
	return fmt.Errorf("telephony: request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func decodeProviderError(status int, body []byte) error {
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" && payload.Code == 0 {
		return &ProviderError{Status: status, Message: strings.TrimSpace(string(body))}
	}
	return &ProviderError{Status: status, Code: payload.Code, Message: payload.Message}
}
