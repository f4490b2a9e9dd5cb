package shairport

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	typeRe   = regexp.MustCompile(`<type>([0-9a-fA-F]{8})</type>`)
	codeRe   = regexp.MustCompile(`<code>([0-9a-fA-F]{8})</code>`)
	lengthRe = regexp.MustCompile(`<length>(\d+)</length>`)
	dataRe   = regexp.MustCompile(`<data encoding="base64">([^<]*)</data>`)
)

const dataOpenTag = `<data encoding="base64">`

// MalformedItemError describes a protocol record that could not be decoded.
// The parser reports it and resynchronizes on the next <item> marker.
type MalformedItemError struct {
	Line   string
	Reason string
	Err    error
}

func (e *MalformedItemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed item (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed item (%s)", e.Reason)
}

func (e *MalformedItemError) Unwrap() error { return e.Err }

// ItemFunc receives each fully assembled item in pipe order.
type ItemFunc func(Item)

// MalformedFunc receives decode failures. The offending envelope has been
// discarded and the parser is already resynchronized when it is called.
type MalformedFunc func(*MalformedItemError)

// pendingItem is an envelope whose payload is still being collected.
type pendingItem struct {
	typ    string
	code   string
	length int
}

// PipeParser turns raw metadata pipe lines into Items. It is resumable: a
// record may be split across any number of ProcessLine calls and no state is
// lost between them. Not safe for concurrent use; the pipeline is a single
// sequential path.
type PipeParser struct {
	onItem      ItemFunc
	onMalformed MalformedFunc

	current    *pendingItem
	collecting bool
	data       strings.Builder
	assembler  *chunkAssembler
}

// ParserOption configures a PipeParser.
type ParserOption func(*PipeParser)

// WithMalformedHandler sets the callback for malformed records.
func WithMalformedHandler(fn MalformedFunc) ParserOption {
	return func(p *PipeParser) {
		p.onMalformed = fn
	}
}

// NewPipeParser creates a parser delivering items to onItem.
func NewPipeParser(onItem ItemFunc, opts ...ParserOption) *PipeParser {
	p := &PipeParser{
		onItem: onItem,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.assembler = newChunkAssembler(p.emit)
	return p
}

// ProcessLine consumes one line of pipe output. Lines may begin, continue,
// or complete a record; anything unrecognized outside a record is ignored.
func (p *PipeParser) ProcessLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	switch {
	case strings.HasPrefix(line, "<item>"):
		p.startItem(line)
	case p.collecting:
		p.continueData(line)
	case line == "</item>" && p.current != nil:
		p.completeItem()
	case strings.HasPrefix(line, dataOpenTag):
		p.startData(line)
	default:
		log.Debug().Str("line", truncateForLog(line)).Msg("Unhandled pipe line")
	}
}

// startItem begins a new envelope. A previous unterminated envelope is
// dropped here, which is the resynchronization point after malformed input.
func (p *PipeParser) startItem(line string) {
	if p.current != nil {
		p.fail(line, "unterminated previous item", nil)
	}

	typeMatch := typeRe.FindStringSubmatch(line)
	codeMatch := codeRe.FindStringSubmatch(line)
	lengthMatch := lengthRe.FindStringSubmatch(line)
	if typeMatch == nil || codeMatch == nil || lengthMatch == nil {
		p.fail(line, "missing type/code/length", nil)
		return
	}

	typ, err := decodeTag(typeMatch[1])
	if err != nil {
		p.fail(line, "bad type tag", err)
		return
	}
	code, err := decodeTag(codeMatch[1])
	if err != nil {
		p.fail(line, "bad code tag", err)
		return
	}
	length, err := strconv.Atoi(lengthMatch[1])
	if err != nil || length < 0 {
		p.fail(line, "bad length", err)
		return
	}

	p.current = &pendingItem{typ: typ, code: code, length: length}
	p.collecting = false
	p.data.Reset()

	// The envelope may close, or open its data section, on the same line.
	if strings.Contains(line, "</item>") {
		if m := dataRe.FindStringSubmatch(line); m != nil {
			p.data.WriteString(m[1])
		}
		p.completeItem()
	} else if strings.Contains(line, dataOpenTag) {
		p.startData(line)
	}
}

// startData opens the base64 payload section, which may also close on the
// same line.
func (p *PipeParser) startData(line string) {
	if p.current == nil {
		log.Debug().Msg("Data section outside item envelope")
		return
	}
	p.collecting = true

	idx := strings.Index(line, dataOpenTag)
	rest := line[idx+len(dataOpenTag):]
	if strings.Contains(rest, "</data></item>") {
		p.data.WriteString(strings.Replace(rest, "</data></item>", "", 1))
		p.completeItem()
		return
	}
	p.data.WriteString(rest)
}

// continueData accumulates payload lines until the closing tags arrive.
func (p *PipeParser) continueData(line string) {
	switch {
	case strings.HasPrefix(line, "</data></item>"):
		p.completeItem()
	case strings.HasSuffix(line, "</data></item>"):
		p.data.WriteString(strings.TrimSuffix(line, "</data></item>"))
		p.completeItem()
	default:
		p.data.WriteString(line)
	}
}

// completeItem decodes the buffered payload and emits the item. The declared
// length must match the assembled payload exactly; anything else is malformed
// since the envelope has already closed.
func (p *PipeParser) completeItem() {
	item := p.current
	encoded := p.data.String()
	p.reset()

	if item == nil {
		return
	}

	var payload []byte
	if encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			p.fail(encoded, "base64 decode failed", err)
			return
		}
		payload = decoded
	}

	if item.length != len(payload) {
		p.fail(encoded, fmt.Sprintf("declared length %d, payload %d", item.length, len(payload)), nil)
		return
	}

	p.assembler.Process(Item{
		Type:    item.typ,
		Code:    item.code,
		Length:  item.length,
		Payload: payload,
	})
}

// emit hands a fully assembled item downstream.
func (p *PipeParser) emit(item Item) {
	if p.onItem != nil {
		p.onItem(item)
	}
}

func (p *PipeParser) fail(line, reason string, err error) {
	p.reset()
	merr := &MalformedItemError{Line: truncateForLog(line), Reason: reason, Err: err}
	log.Warn().Err(merr).Msg("Discarding malformed pipe record")
	if p.onMalformed != nil {
		p.onMalformed(merr)
	}
}

func (p *PipeParser) reset() {
	p.current = nil
	p.collecting = false
	p.data.Reset()
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
