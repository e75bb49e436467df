// Package protocol implements the Niimbot label printer wire protocol: the
// packet codec, the stream framer that reassembles packets from transport
// chunks, the response decoders and the outbound command packets.
package protocol

import (
	"bytes"
	"fmt"
)

// Frame layout: 55 55 <code> <len> <payload...> <checksum> AA AA
const (
	StartMarker byte = 0x55
	EndMarker   byte = 0xAA

	// MaxPayload is the largest payload a one-byte length can describe
	MaxPayload = 0xFF

	headerLen  = 4 // markers + code + len
	trailerLen = 3 // checksum + markers
	// MinFrameLen is the size of a frame with an empty payload
	MinFrameLen = headerLen + trailerLen
)

// Packet is an immutable (code, payload) pair
type Packet struct {
	code    Code
	payload []byte
}

// NewPacket builds a packet. It panics when the payload does not fit the
// one-byte length field.
func NewPacket(code Code, payload []byte) Packet {
	if len(payload) > MaxPayload {
		panic(fmt.Sprintf("protocol: payload of %d bytes exceeds %d", len(payload), MaxPayload))
	}
	return Packet{code: code, payload: bytes.Clone(payload)}
}

// Code returns the packet's command/response code
func (p Packet) Code() Code {
	return p.code
}

// Payload returns a copy of the payload bytes
func (p Packet) Payload() []byte {
	return bytes.Clone(p.payload)
}

// Len returns the payload length
func (p Packet) Len() int {
	return len(p.payload)
}

// Equal reports whether two packets carry the same code and payload
func (p Packet) Equal(o Packet) bool {
	return p.code == o.code && bytes.Equal(p.payload, o.payload)
}

func (p Packet) String() string {
	return fmt.Sprintf("%s[% X]", p.code, p.payload)
}

// Checksum folds the code, the length byte and every payload byte with XOR
func Checksum(code Code, payload []byte) byte {
	sum := byte(code) ^ byte(len(payload))
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// Encode serializes p into a wire frame
func Encode(p Packet) []byte {
	out := make([]byte, 0, MinFrameLen+len(p.payload))
	out = append(out, StartMarker, StartMarker, byte(p.code), byte(len(p.payload)))
	out = append(out, p.payload...)
	out = append(out, Checksum(p.code, p.payload), EndMarker, EndMarker)
	return out
}

// Decode validates a single candidate frame and returns its packet.
// Decoding is all-or-nothing: any structural, code or checksum problem
// yields ok == false.
func Decode(frame []byte) (Packet, bool) {
	n := len(frame)
	if n < MinFrameLen {
		return Packet{}, false
	}
	if frame[0] != StartMarker || frame[1] != StartMarker ||
		frame[n-2] != EndMarker || frame[n-1] != EndMarker {
		return Packet{}, false
	}

	code := Code(frame[2])
	if !code.Known() {
		return Packet{}, false
	}
	length := int(frame[3])
	if n != MinFrameLen+length {
		return Packet{}, false
	}

	payload := frame[headerLen : headerLen+length]
	if Checksum(code, payload) != frame[headerLen+length] {
		return Packet{}, false
	}
	return Packet{code: code, payload: bytes.Clone(payload)}, true
}
