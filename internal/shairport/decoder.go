package shairport

import (
	"bufio"
	"io"
)

// maxLineBytes bounds a single pipe line. Base64 cover art lines can be
// large; shairport-sync emits them well under this.
const maxLineBytes = 4 * 1024 * 1024

// Decoder yields Items from a raw byte stream. The sequence is lazy and
// strictly ordered: Next blocks on the underlying reader until a complete
// record is available, and no partially assembled record is ever returned.
// State survives short reads, so a record split across reads decodes once
// its final bytes arrive.
type Decoder struct {
	scanner *bufio.Scanner
	parser  *PipeParser
	queue   []Item
	err     error
}

// NewDecoder creates a decoder over r. Malformed records are reported
// through the optional handler and skipped; they never stop the stream.
func NewDecoder(r io.Reader, opts ...ParserOption) *Decoder {
	d := &Decoder{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	d.scanner = scanner
	d.parser = NewPipeParser(func(item Item) {
		d.queue = append(d.queue, item)
	}, opts...)

	return d
}

// Next returns the next complete item. It returns io.EOF once the stream
// ends and all buffered items have been drained.
func (d *Decoder) Next() (Item, error) {
	for len(d.queue) == 0 {
		if d.err != nil {
			return Item{}, d.err
		}
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				d.err = err
			} else {
				d.err = io.EOF
			}
			continue
		}
		d.parser.ProcessLine(d.scanner.Text())
	}

	item := d.queue[0]
	d.queue = d.queue[1:]
	return item, nil
}
