package telephony

import (
	"bytes"
	"encoding/xml"
	"net/url"
)

// Voice-instruction (TwiML) builders. Two documents exist:
//
//   - connect-stream: bridge call audio into the ML service's WebSocket so
//     it can classify the answering party.
//   - connect-human: play the greeting once a human is on the line.
//
// Built with encoding/xml directly; no provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlConnect struct {
	XMLName xml.Name     `xml:"Connect"`
	Stream  *twimlStream `xml:"Stream,omitempty"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Track      string           `xml:"track,attr,omitempty"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

const fallbackGreeting = "Hello! Please hold while we connect you to an agent."

// StreamURL builds the ML service WebSocket endpoint for one call. The
// bearer token rides in the query string; stream consumers that cannot read
// query params get it again via the nested Parameter element.
func StreamURL(streamBase, callSid, token string) string {
	u := streamBase + "/ws/audio-stream/" + callSid
	if token == "" {
		return u
	}
	sep := "?"
	if bytes.ContainsRune([]byte(u), '?') {
		sep = "&"
	}
	return u + sep + "token=" + url.QueryEscape(token)
}

// ConnectStreamTwiML renders the media-stream bridge document. The trailing
// Pause holds the call open while the stream authenticates.
func ConnectStreamTwiML(streamBase, callSid, token string) (string, error) {
	stream := &twimlStream{
		URL:   StreamURL(streamBase, callSid, token),
		Track: "inbound_track",
	}
	if token != "" {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: "authToken", Value: token})
	}

	r := twimlResponse{Verbs: []any{
		twimlConnect{Stream: stream},
		twimlPause{Length: 5},
	}}
	return renderTwiML(r)
}

// ConnectHumanTwiML renders the greet-and-connect document. greetingURL is
// optional; absent, a synthesized greeting is spoken.
func ConnectHumanTwiML(greetingURL string) (string, error) {
	r := twimlResponse{}
	if greetingURL != "" {
		r.Verbs = append(r.Verbs, twimlPlay{URL: greetingURL})
	} else {
		r.Verbs = append(r.Verbs, twimlSay{Text: fallbackGreeting})
	}
	return renderTwiML(r)
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
