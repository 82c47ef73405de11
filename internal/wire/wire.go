// Package wire provides the binary encoding shared by every Armour codec:
// deterministic CBOR marshalling plus the length-prefixed framing used on
// host↔proxy and external-RPC streams.
//
// Determinism matters: program identity is a blake3 hash of the canonical
// encoding, so map keys are sorted and shortest-form encodings are forced.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrame is the largest admissible frame body. The length prefix is two
// bytes, so this is a hard property of the wire format, not a tunable.
const MaxFrame = 0xffff

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	var err error
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(err)
	}
	decOpts := cbor.DecOptions{}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes v into canonical CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes canonical CBOR into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// WriteFrame writes a 2-byte big-endian length prefix followed by the
// canonical encoding of v.
func WriteFrame(w io.Writer, v any) error {
	body, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > MaxFrame {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame and decodes it into v.
func ReadFrame(r io.Reader, v any) error {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint16(prefix[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
