package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const signatureHeader = "X-Twilio-Signature"

// ValidSignature checks the provider's webhook signature: base64 of
// HMAC-SHA1(authToken) over the externally visible request URL concatenated
// with the form parameters sorted by key (key immediately followed by value).
func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// ExternalURL reconstructs the URL the provider signed. The instance usually
// sits behind a TLS-terminating proxy, so X-Forwarded-Proto and
// X-Forwarded-Host win over the transport-level values.
func ExternalURL(r *http.Request) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}

	u := proto + "://" + host + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// VerifyWebhookRequest parses the form and validates the signature header
// against it. It must be called before anything else consumes the body.
func VerifyWebhookRequest(r *http.Request, authToken string) bool {
	if err := r.ParseForm(); err != nil {
		return false
	}
	return ValidSignature(authToken, ExternalURL(r), r.PostForm, r.Header.Get(signatureHeader))
}
