package shairport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"testing"
)

// encodeItem renders a protocol envelope the way shairport-sync writes it:
// header line, base64 data split across lines, closing tags.
func encodeItem(typ, code string, payload []byte) []string {
	header := fmt.Sprintf("<item><type>%x</type><code>%x</code><length>%d</length>", typ, code, len(payload))
	if len(payload) == 0 {
		return []string{header, "</item>"}
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	lines := []string{header, `<data encoding="base64">`}
	for len(encoded) > 0 {
		n := 76
		if n > len(encoded) {
			n = len(encoded)
		}
		lines = append(lines, encoded[:n])
		encoded = encoded[n:]
	}
	return append(lines, "</data></item>")
}

func collectItems(t *testing.T, lines []string) ([]Item, []*MalformedItemError) {
	t.Helper()

	var items []Item
	var malformed []*MalformedItemError
	p := NewPipeParser(
		func(it Item) { items = append(items, it) },
		WithMalformedHandler(func(e *MalformedItemError) { malformed = append(malformed, e) }),
	)
	for _, line := range lines {
		p.ProcessLine(line)
	}
	return items, malformed
}

func TestParseSingleLineItem(t *testing.T) {
	// pcst with payload "1" fits on one line
	line := fmt.Sprintf(`<item><type>%x</type><code>%x</code><length>1</length><data encoding="base64">MQ==</data></item>`,
		TypeSSNC, CodePlayControl)

	items, malformed := collectItems(t, []string{line})
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed records: %v", malformed)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	it := items[0]
	if it.Type != TypeSSNC || it.Code != CodePlayControl {
		t.Errorf("wrong tags: %s/%s", it.Type, it.Code)
	}
	if it.Length != len(it.Payload) {
		t.Errorf("length %d does not match payload %d", it.Length, len(it.Payload))
	}
	if string(it.Payload) != "1" {
		t.Errorf("expected payload \"1\", got %q", it.Payload)
	}
}

func TestParseEmptyPayloadItem(t *testing.T) {
	items, malformed := collectItems(t, encodeItem(TypeSSNC, CodeSessionBegin, nil))
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed records: %v", malformed)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Length != 0 || len(items[0].Payload) != 0 {
		t.Errorf("expected empty payload, got length=%d payload=%d", items[0].Length, len(items[0].Payload))
	}
}

func TestParseMultiLinePayload(t *testing.T) {
	// Binary payload large enough to span several base64 lines
	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	items, malformed := collectItems(t, encodeItem(TypeSSNC, CodePicture, payload))
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed records: %v", malformed)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if !bytes.Equal(items[0].Payload, payload) {
		t.Error("payload not bit-identical after multi-line reassembly")
	}
	if items[0].Length != len(payload) {
		t.Errorf("length %d, want %d", items[0].Length, len(payload))
	}
}

func TestTruncatedItemNeverEmitted(t *testing.T) {
	lines := encodeItem(TypeCore, "minm", []byte("Harvest Moon"))

	var items []Item
	p := NewPipeParser(func(it Item) { items = append(items, it) })

	// Deliver everything except the closing tags
	for _, line := range lines[:len(lines)-1] {
		p.ProcessLine(line)
	}
	if len(items) != 0 {
		t.Fatalf("partial item must not be emitted, got %d items", len(items))
	}

	// Completing the record later emits exactly one item
	p.ProcessLine(lines[len(lines)-1])
	if len(items) != 1 {
		t.Fatalf("expected 1 item after completion, got %d", len(items))
	}
	if got, _ := items[0].Text(); got != "Harvest Moon" {
		t.Errorf("expected title payload, got %q", got)
	}
}

func TestMalformedHexResynchronizes(t *testing.T) {
	bad := `<item><type>zzzzzzzz</type><code>70637374</code><length>1</length><data encoding="base64">MQ==</data></item>`
	good := encodeItem(TypeCore, "asar", []byte("Neil Young"))

	items, malformed := collectItems(t, append([]string{bad}, good...))
	if len(malformed) != 1 {
		t.Fatalf("expected 1 malformed record, got %d", len(malformed))
	}
	if len(items) != 1 {
		t.Fatalf("expected parser to resync and emit 1 item, got %d", len(items))
	}
	if items[0].Code != "asar" {
		t.Errorf("expected asar item after resync, got %s", items[0].Code)
	}
}

func TestMalformedBase64Reported(t *testing.T) {
	line := fmt.Sprintf(`<item><type>%x</type><code>%x</code><length>4</length><data encoding="base64">!!notbase64!!</data></item>`,
		TypeCore, "minm")

	items, malformed := collectItems(t, []string{line})
	if len(items) != 0 {
		t.Errorf("bad base64 must not emit an item, got %d", len(items))
	}
	if len(malformed) != 1 {
		t.Fatalf("expected 1 malformed record, got %d", len(malformed))
	}
}

func TestLengthMismatchReported(t *testing.T) {
	// Declared length 10, actual payload 3 bytes
	line := fmt.Sprintf(`<item><type>%x</type><code>%x</code><length>10</length><data encoding="base64">%s</data></item>`,
		TypeCore, "minm", base64.StdEncoding.EncodeToString([]byte("abc")))

	items, malformed := collectItems(t, []string{line})
	if len(items) != 0 {
		t.Errorf("length mismatch must not emit an item, got %d", len(items))
	}
	if len(malformed) != 1 {
		t.Fatalf("expected 1 malformed record, got %d", len(malformed))
	}
}

func TestUnknownCodePassesThrough(t *testing.T) {
	items, malformed := collectItems(t, encodeItem(TypeCore, "zzzq", []byte("opaque")))
	if len(malformed) != 0 {
		t.Fatalf("unknown codes are not malformed: %v", malformed)
	}
	if len(items) != 1 {
		t.Fatalf("expected opaque passthrough, got %d items", len(items))
	}
	if items[0].Code != "zzzq" {
		t.Errorf("expected code zzzq, got %s", items[0].Code)
	}
}

func TestInterruptedItemDroppedOnNewEnvelope(t *testing.T) {
	first := encodeItem(TypeCore, "minm", []byte("interrupted"))
	second := encodeItem(TypeCore, "asar", []byte("complete"))

	// First record loses its tail; a fresh envelope arrives instead
	lines := append(first[:len(first)-1], second...)
	items, malformed := collectItems(t, lines)

	if len(malformed) != 1 {
		t.Fatalf("expected 1 malformed record for dropped envelope, got %d", len(malformed))
	}
	if len(items) != 1 || items[0].Code != "asar" {
		t.Fatalf("expected only the complete asar item, got %v", items)
	}
}

func TestItemText(t *testing.T) {
	text, ok := Item{Payload: []byte("  Harvest  ")}.Text()
	if !ok || text != "Harvest" {
		t.Errorf("expected trimmed text, got %q ok=%v", text, ok)
	}

	if _, ok := (Item{Payload: []byte{0x00, 0x01, 0x41}}).Text(); ok {
		t.Error("binary payload must not decode as text")
	}
}
