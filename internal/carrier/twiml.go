package carrier

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

// StreamURL derives the media WebSocket URL from the service's public base
// URL: the scheme becomes wss (ws for plain http) and the path /stream.
func StreamURL(publicBaseURL string) (string, error) {
	u, err := url.Parse(publicBaseURL)
	if err != nil {
		return "", fmt.Errorf("carrier: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/stream"
	return u.String(), nil
}

// VoiceHandler answers the gateway's webhook for a ringing call with a
// TwiML document that connects the call's audio to streamURL.
func VoiceHandler(streamURL string) http.HandlerFunc {
	doc := twimlResponse{}
	doc.Connect.Stream.URL = streamURL
	body, err := xml.Marshal(doc)
	if err != nil {
		// Static struct, cannot fail at runtime.
		panic(err)
	}
	payload := []byte(xml.Header + string(body))

	return func(w http.ResponseWriter, r *http.Request) {
		slog.Info("voice webhook answered", "remote", r.RemoteAddr)
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		_, _ = w.Write(payload)
	}
}
