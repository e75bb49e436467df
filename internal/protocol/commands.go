package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// ErrRowBits is returned for a raster row that cannot be packed
var ErrRowBits = errors.New("protocol: row must be groups of 8 '0'/'1' characters")

// rowHeader follows the row index in every bitmap row packet
var rowHeader = [4]byte{0x00, 0x00, 0x00, 0x01}

// GetInfo requests one device information value
func GetInfo(key InfoKey) Packet {
	return NewPacket(CodeGetInfo, []byte{byte(key)})
}

func GetRFID() Packet {
	return NewPacket(CodeGetRFID, []byte{0x01})
}

func GetPrintStatus() Packet {
	return NewPacket(CodeGetPrintStatus, []byte{0x01})
}

func Heartbeat() Packet {
	return NewPacket(CodeHeartbeat, []byte{0x01})
}

// SetLabelType selects the media type (1 gap, 2 black mark, 3 continuous...)
func SetLabelType(n uint8) Packet {
	return NewPacket(CodeSetLabelType, []byte{n})
}

// SetLabelDensity sets print darkness (1-5 on most models)
func SetLabelDensity(n uint8) Packet {
	return NewPacket(CodeSetLabelDensity, []byte{n})
}

func SetAutoShutdownTime(n uint8) Packet {
	return NewPacket(CodeSetAutoShutdownTime, []byte{n})
}

// SetDimension sets the page size: rows (label length) then columns
func SetDimension(rows, cols uint16) Packet {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], rows)
	binary.BigEndian.PutUint16(b[2:4], cols)
	return NewPacket(CodeSetDimension, b)
}

func SetQuantity(n uint16) Packet {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, n)
	return NewPacket(CodeSetQuantity, b)
}

func StartPrint() Packet {
	return NewPacket(CodeStartPrint, []byte{0x01})
}

func EndPrint() Packet {
	return NewPacket(CodeEndPrint, []byte{0x01})
}

func StartPagePrint() Packet {
	return NewPacket(CodeStartPagePrint, []byte{0x01})
}

func EndPagePrint() Packet {
	return NewPacket(CodeEndPagePrint, []byte{0x01})
}

func AllowPrintClear() Packet {
	return NewPacket(CodeAllowPrintClear, []byte{0x01})
}

func CancelPrint() Packet {
	return NewPacket(CodeCancelPrint, []byte{0x01})
}

// PackBits converts a textual row of '0' and '1' characters into bytes,
// parsing each group of eight characters as a base-2 number.
func PackBits(bits string) ([]byte, error) {
	if len(bits)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bits", ErrRowBits, len(bits))
	}
	out := make([]byte, 0, len(bits)/8)
	for i := 0; i < len(bits); i += 8 {
		v, err := strconv.ParseUint(bits[i:i+8], 2, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrRowBits, bits[i:i+8], err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// PrintRow builds the bitmap packet for raster row index
func PrintRow(index uint16, bits string) (Packet, error) {
	data, err := PackBits(bits)
	if err != nil {
		return Packet{}, err
	}
	payload := make([]byte, 0, 2+len(rowHeader)+len(data))
	payload = binary.BigEndian.AppendUint16(payload, index)
	payload = append(payload, rowHeader[:]...)
	payload = append(payload, data...)
	if len(payload) > MaxPayload {
		return Packet{}, fmt.Errorf("protocol: row %d too wide (%d bytes)", index, len(data))
	}
	return NewPacket(CodePrintBitmapRow, payload), nil
}
