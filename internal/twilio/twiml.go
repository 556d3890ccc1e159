package twilio

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const connectTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Say>Please wait while we connect your call to the A. I. voice assistant.</Say>
    <Pause length="1"/>
    <Say>O. K. you can start talking!</Say>
    <Connect>
        <Stream url="wss://%s/media-stream"/>
    </Connect>
</Response>
`

// ConnectDocument builds the TwiML instruction directing the provider to open
// a media-stream websocket to this relay. host is the externally reachable
// hostname of the relay, without scheme.
func ConnectDocument(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("twiml: host is required")
	}
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(host)); err != nil {
		return "", fmt.Errorf("twiml escape: %w", err)
	}
	return fmt.Sprintf(connectTemplate, escaped.String()), nil
}
