// Package shairport decodes the shairport-sync metadata pipe protocol.
//
// The pipe carries line-oriented records framed in an XML-like envelope:
//
//	<item><type>73736e63</type><code>70637374</code><length>1</length>
//	<data encoding="base64">MQ==</data></item>
//
// Type and code are 8 hex digits encoding a 4-character tag ("core", "ssnc",
// "minm", ...). Payloads are base64 and may span many lines; large binary
// payloads (cover art) may additionally arrive as begin/data/end chunk
// triplets that are reassembled before being surfaced.
package shairport

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// Item is one fully assembled protocol record from the metadata pipe.
// Length always equals len(Payload); partial records are never emitted.
type Item struct {
	Type    string // 4-character type tag: "core" or "ssnc"
	Code    string // 4-character sub-code: "minm", "pcst", "PICT", ...
	Length  int    // declared payload size in bytes
	Payload []byte // raw payload, text or binary
}

// IsCore reports whether the item carries iTunes/DMAP metadata.
func (it Item) IsCore() bool { return it.Type == TypeCore }

// IsSSNC reports whether the item is a shairport-sync control record.
func (it Item) IsSSNC() bool { return it.Type == TypeSSNC }

// Text returns the payload decoded as trimmed UTF-8 text. The second return
// is false when the payload contains control bytes or invalid UTF-8 and
// should be treated as binary.
func (it Item) Text() (string, bool) {
	s := strings.TrimSpace(string(it.Payload))
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return "", false
		}
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return "", false
		}
	}
	return s, true
}

// String renders the item for logs without dumping binary payloads.
func (it Item) String() string {
	if text, ok := it.Text(); ok && len(text) <= 64 {
		return fmt.Sprintf("%s/%s %q", it.Type, it.Code, text)
	}
	return fmt.Sprintf("%s/%s <%d bytes>", it.Type, it.Code, it.Length)
}

// decodeTag converts an 8-hex-digit field into its 4-character tag.
func decodeTag(hex8 string) (string, error) {
	raw, err := hex.DecodeString(hex8)
	if err != nil {
		return "", fmt.Errorf("invalid hex tag %q: %w", hex8, err)
	}
	if len(raw) != 4 {
		return "", fmt.Errorf("tag %q is not 4 bytes", hex8)
	}
	return string(raw), nil
}
