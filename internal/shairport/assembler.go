package shairport

import (
	"bytes"

	"github.com/rs/zerolog/log"
)

// chunkAssembler reassembles multi-chunk binary payloads. Cover art too large
// for a single envelope arrives as a pcbg/pcdt/pcnd triplet; the assembler
// accumulates the data chunks and flushes one synthetic PICT item. Everything
// else passes straight through.
//
// The accumulate/flush state is keyed by the chunk code so an interleaved
// non-chunk item cannot corrupt a transfer in progress.
type chunkAssembler struct {
	emit   ItemFunc
	buf    bytes.Buffer
	active bool
}

func newChunkAssembler(emit ItemFunc) *chunkAssembler {
	return &chunkAssembler{emit: emit}
}

// Process routes an item through the assembler.
func (a *chunkAssembler) Process(item Item) {
	if !item.IsSSNC() {
		a.emit(item)
		return
	}

	switch item.Code {
	case CodePictureBegin:
		if a.active {
			log.Warn().Int("buffered", a.buf.Len()).Msg("Picture transfer restarted, dropping partial buffer")
		}
		a.buf.Reset()
		a.active = true
		a.buf.Write(item.Payload)

	case CodePictureData:
		// A data chunk without a begin marker starts a transfer anyway;
		// the source occasionally omits pcbg after a stream flush.
		a.active = true
		a.buf.Write(item.Payload)

	case CodePictureEnd:
		a.buf.Write(item.Payload)
		payload := make([]byte, a.buf.Len())
		copy(payload, a.buf.Bytes())
		a.buf.Reset()
		a.active = false

		a.emit(Item{
			Type:    TypeSSNC,
			Code:    CodePicture,
			Length:  len(payload),
			Payload: payload,
		})

	default:
		a.emit(item)
	}
}

// Pending reports whether a chunk transfer is in progress.
func (a *chunkAssembler) Pending() bool {
	return a.active
}
