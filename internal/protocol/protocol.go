package protocol

import (
	"encoding/json"
	"strings"
)

// Command tags. Every frame on the wire is "TAG" or "TAG <json-body>".
const (
	TagIdentify = "IDN"
	TagPing     = "PIN"
	TagMove     = "MOV"
	TagChat     = "MSG"
	TagCommand  = "CMD"
	TagBag      = "BAG"
	TagMail     = "EML"
	TagTileset  = "TSD"
	TagImage    = "IMG"
	TagMapInfo  = "MAI"
	TagDelete   = "DEL"
	TagPut      = "PUT"
	TagBulk     = "BLK"

	// Server -> client only.
	TagMap     = "MAP"
	TagWho     = "WHO"
	TagPrivate = "PRI"
	TagError   = "ERR"
)

// Frame is one decoded wire message: a fixed three-byte tag and an
// optional JSON body.
type Frame struct {
	Tag  string
	Body json.RawMessage
}

// DecodeFrame splits a raw message into tag and body. Messages shorter
// than the tag are ignored (ok=false); a message with no body yields a
// nil Body.
func DecodeFrame(raw []byte) (Frame, bool) {
	if len(raw) < 3 {
		return Frame{}, false
	}
	f := Frame{Tag: string(raw[0:3])}
	if len(raw) > 4 {
		f.Body = json.RawMessage(raw[4:])
	}
	return f, true
}

// EncodeFrame renders a tag plus optional payload. A nil payload
// produces a bare tag (used for PIN).
func EncodeFrame(tag string, payload any) ([]byte, error) {
	if payload == nil {
		return []byte(tag), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(tag)+1+len(body))
	out = append(out, tag...)
	out = append(out, ' ')
	out = append(out, body...)
	return out, nil
}

var tagEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeTags neutralizes markup-significant characters in chat text.
func EscapeTags(text string) string {
	return tagEscaper.Replace(text)
}
