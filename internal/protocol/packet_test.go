package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBatteryRequest(t *testing.T) {
	got := Encode(GetInfo(InfoBattery))
	want := []byte{0x55, 0x55, 0x40, 0x01, 0x0A, 0x4B, 0xAA, 0xAA}
	assert.Equal(t, want, got)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	full := make([]byte, MaxPayload)
	for i := range full {
		full[i] = byte(i * 7)
	}

	tests := []struct {
		name    string
		code    Code
		payload []byte
	}{
		{"empty payload", CodeHeartbeat, nil},
		{"single byte", CodeGetInfo, []byte{byte(InfoSerialNumber)}},
		{"marker bytes in payload", CodeInfoSerialNumber, []byte{0x55, 0x55, 0xAA, 0xAA}},
		{"print status", CodePrintStatus, []byte{0x00, 0x01, 0x02, 0x64}},
		{"max payload", CodePrintBitmapRow, full},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacket(tt.code, tt.payload)
			decoded, ok := Decode(Encode(p))
			require.True(t, ok)
			assert.True(t, p.Equal(decoded), "got %s want %s", decoded, p)
		})
	}
}

func TestNewPacketPanicsOnOversizedPayload(t *testing.T) {
	assert.Panics(t, func() {
		NewPacket(CodePrintBitmapRow, make([]byte, MaxPayload+1))
	})
}

func TestPacketIsImmutable(t *testing.T) {
	src := []byte{1, 2, 3}
	p := NewPacket(CodeInfoSerialNumber, src)
	src[0] = 9
	out := p.Payload()
	out[1] = 9
	assert.Equal(t, []byte{1, 2, 3}, p.Payload())
}

func TestDecodePrintStatusFrame(t *testing.T) {
	frame := []byte{0x55, 0x55, 0xA3, 0x04, 0x00, 0x01, 0x02, 0x64, 0xC0, 0xAA, 0xAA}
	p, ok := Decode(frame)
	require.True(t, ok)
	assert.Equal(t, CodeGetPrintStatus, p.Code())

	ev, ok := DefaultRegistry().Decode(p)
	require.True(t, ok)
	assert.Equal(t, PrintStatus{Page: 1, Progress1: 2, Progress2: 100}, ev)
	assert.True(t, ev.(PrintStatus).Succeeded())
}

func TestDecodeRejectsBitFlips(t *testing.T) {
	frame := Encode(NewPacket(CodeInfoBattery, []byte{0x50}))
	n := len(frame)
	// start markers, checksum, end markers
	positions := []int{0, 1, n - 3, n - 2, n - 1}

	for _, pos := range positions {
		for bit := 0; bit < 8; bit++ {
			corrupt := bytes.Clone(frame)
			corrupt[pos] ^= 1 << bit
			_, ok := Decode(corrupt)
			assert.False(t, ok, "flip byte %d bit %d", pos, bit)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid := Encode(NewPacket(CodeInfoBattery, []byte{0x50}))

	tests := []struct {
		name  string
		frame []byte
	}{
		{"too short", []byte{0x55, 0x55, 0x4A, 0x00, 0x4A, 0xAA}},
		{"unknown code", Encode(Packet{code: 0x99, payload: []byte{1}})},
		{"length larger than data", append(bytes.Clone(valid[:3]), append([]byte{0x02}, valid[4:]...)...)},
		{"trailing garbage", append(bytes.Clone(valid), 0x00)},
		{"payload corrupted", func() []byte { b := bytes.Clone(valid); b[4] ^= 0x01; return b }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Decode(tt.frame)
			assert.False(t, ok)
		})
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0x4B), Checksum(CodeGetInfo, []byte{0x0A}))
	assert.Equal(t, byte(0xC0), Checksum(CodeGetPrintStatus, []byte{0x00, 0x01, 0x02, 0x64}))
	assert.Equal(t, byte(CodeHeartbeat), Checksum(CodeHeartbeat, nil))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "GetInfo", CodeGetInfo.String())
	assert.Equal(t, "Code(0x99)", Code(0x99).String())
	assert.False(t, Code(0x99).Known())
	assert.Equal(t, CodeInfoBattery, InfoBattery.ResponseCode())
}
