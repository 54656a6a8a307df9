package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusWebhookForm captures the subset of status-callback fields the
// lifecycle coordinator cares about. The provider sends
// application/x-www-form-urlencoded by default.
//
// Keep it minimal and provider-adapter-only; merge decisions are not made here.

type StatusWebhookForm struct {
	CallSid      string
	CallStatus   string
	CallDuration string
	AnsweredBy   string
}

func ParseStatusWebhook(r *http.Request) (StatusWebhookForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusWebhookForm{}, err
	}
	return StatusWebhookForm{
		CallSid:      r.PostFormValue("CallSid"),
		CallStatus:   strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallDuration: strings.TrimSpace(r.PostFormValue("CallDuration")),
		AnsweredBy:   strings.TrimSpace(r.PostFormValue("AnsweredBy")),
	}, nil
}

// DurationSeconds parses CallDuration; nil when absent or malformed.
func (f StatusWebhookForm) DurationSeconds() *int {
	if f.CallDuration == "" {
		return nil
	}
	n, err := strconv.Atoi(f.CallDuration)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// AnswerCallSid extracts CallSid from the answer-URL request (form body or
// query string). The provider always sends one; the synthetic fallback keeps
// the stream URL well-formed if it ever does not.
func AnswerCallSid(r *http.Request, now time.Time) string {
	if sid := r.URL.Query().Get("CallSid"); sid != "" {
		return sid
	}
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err == nil {
			if sid := r.PostFormValue("CallSid"); sid != "" {
				return sid
			}
		}
	}
	return "unknown-" + strconv.FormatInt(now.UnixMilli(), 10)
}
