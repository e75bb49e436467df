package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rfidPayload() []byte {
	b := []byte{0x8A, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	b = append(b, 4)
	b = append(b, "6972"...)
	b = append(b, 3)
	b = append(b, "S01"...)
	b = append(b, 0x00, 0xA0) // total 160
	b = append(b, 0x00, 0x0A) // used 10
	b = append(b, 0x01)
	return b
}

func TestDefaultRegistryDecodes(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name    string
		code    Code
		payload []byte
		want    Event
	}{
		{"serial", CodeInfoSerialNumber, []byte("H821000123"), SerialNumber{Value: "H821000123"}},
		{"software version", CodeInfoSoftwareVersion, []byte{0x02, 0x0A}, SoftwareVersion{Version: 5.22}},
		{"hardware version", CodeInfoHardwareVersion, []byte{0x01, 0x00}, HardwareVersion{Version: 2.56}},
		{"battery", CodeInfoBattery, []byte{4}, Battery{Level: 4}},
		{"density", CodeInfoDensity, []byte{3}, Density{Value: 3}},
		{"label type", CodeInfoLabelType, []byte{1}, LabelType{Value: 1}},
		{"auto shutdown", CodeInfoAutoShutdownTime, []byte{2}, AutoShutdownTime{Value: 2}},
		{"device type", CodeInfoDeviceType, []byte{0x02, 0x00}, DeviceType{Type: 512}},
		{"print status 4", CodePrintStatus, []byte{0x00, 0x02, 0x32, 0x10}, PrintStatus{Page: 2, Progress1: 0x32, Progress2: 0x10}},
		{"print status 8", CodePrintStatus, []byte{0x00, 0x01, 0x64, 0x64, 9, 9, 9, 9}, PrintStatus{Page: 1, Progress1: 100, Progress2: 100}},
		{"print status 10", CodePrintStatus, make([]byte, 10), PrintStatus{}},
		{"check line", CodePrinterCheckLine, []byte{0x01, 0x2C, 0x01}, PrinterCheckLine{Line: 300, Status: 1}},
		{"ack true", CodeStartPrintAck, []byte{1}, Ack{Name: AckStartPrint, Success: true}},
		{"ack false", CodeEndPrintAck, []byte{0}, Ack{Name: AckEndPrint, Success: false}},
		{"dimension ack two bytes", CodeSetDimensionAck, []byte{1, 0}, Ack{Name: AckSetDimension, Success: true}},
		{"rfid", CodeRFIDInfo, rfidPayload(), RFID{
			UUID:    [8]byte{0x8A, 1, 2, 3, 4, 5, 6, 7},
			Barcode: "6972",
			Serial:  "S01",
			Total:   160,
			Used:    10,
			Type:    1,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := reg.Decode(NewPacket(tt.code, tt.payload))
			require.True(t, ok)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecodeWrongShapeYieldsNothing(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name    string
		code    Code
		payload []byte
	}{
		{"battery two bytes", CodeInfoBattery, []byte{1, 2}},
		{"version one byte", CodeInfoSoftwareVersion, []byte{1}},
		{"device type three bytes", CodeInfoDeviceType, []byte{1, 2, 3}},
		{"print status 5", CodePrintStatus, []byte{0, 1, 2, 3, 4}},
		{"ack empty", CodeStartPrintAck, nil},
		{"ack two bytes", CodeStartPrintAck, []byte{1, 0}},
		{"check line short", CodePrinterCheckLine, []byte{1, 2}},
		{"rfid truncated", CodeRFIDInfo, rfidPayload()[:15]},
		{"rfid empty", CodeRFIDInfo, nil},
		{"serial invalid utf8", CodeInfoSerialNumber, []byte{0xFF, 0xFE}},
		{"request code", CodeGetInfo, []byte{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := reg.Decode(NewPacket(tt.code, tt.payload))
			assert.False(t, ok)
			assert.Nil(t, ev)
		})
	}
}

func TestRFIDNoPaper(t *testing.T) {
	reg := DefaultRegistry()
	for _, payload := range [][]byte{{0x00}, {0x00, 0xFF, 0x12, 0x34}, append([]byte{0}, rfidPayload()[1:]...)} {
		ev, ok := reg.Decode(NewPacket(CodeRFIDInfo, payload))
		require.True(t, ok)
		assert.Equal(t, NoPaper{}, ev)
	}
}

// lowBattery claims the battery code only for empty-ish levels
type lowBattery struct{}

func (lowBattery) Codes() []Code { return []Code{CodeInfoBattery} }

func (lowBattery) TryDecode(p Packet) (Event, bool) {
	if len(p.payload) != 1 || p.payload[0] > 1 {
		return nil, false
	}
	return Ack{Name: "lowBattery", Success: false}, true
}

// anyAck claims the battery code with the generic one-byte rule
type anyAck struct{}

func (anyAck) Codes() []Code { return []Code{CodeInfoBattery} }

func (anyAck) TryDecode(p Packet) (Event, bool) {
	if len(p.payload) != 1 {
		return nil, false
	}
	return Ack{Name: "generic", Success: p.payload[0] != 0}, true
}

func TestRegistryPrecedence(t *testing.T) {
	reg := NewRegistry(lowBattery{}, anyAck{})

	ev, ok := reg.Decode(NewPacket(CodeInfoBattery, []byte{1}))
	require.True(t, ok)
	assert.Equal(t, "lowBattery", ev.Key(), "specific decoder registered first wins")

	ev, ok = reg.Decode(NewPacket(CodeInfoBattery, []byte{3}))
	require.True(t, ok)
	assert.Equal(t, "generic", ev.Key(), "specific decoder declines and leaves the packet")

	_, ok = reg.Decode(NewPacket(CodeInfoBattery, []byte{3, 4}))
	assert.False(t, ok)

	// a decoder only sees the codes it claims
	_, ok = reg.Decode(NewPacket(CodeStartPrintAck, []byte{1}))
	assert.False(t, ok)

	reversed := NewRegistry(anyAck{}, lowBattery{})
	ev, _ = reversed.Decode(NewPacket(CodeInfoBattery, []byte{1}))
	assert.Equal(t, "generic", ev.Key())
	assert.Len(t, reversed.Decoders(), 2)
}

func TestAckKey(t *testing.T) {
	assert.Equal(t, AckSetDimension, AckKey(CodeSetDimension))
	assert.Equal(t, AckEndPrint, AckKey(CodeEndPrint))
	assert.Empty(t, AckKey(CodeGetInfo))

	code, ok := AckCode(CodeSetDimension)
	assert.True(t, ok)
	assert.Equal(t, CodeSetDimensionAck, code)
	_, ok = AckCode(CodeGetRFID)
	assert.False(t, ok)

	// every acknowledged request is answered by a decodable ack
	reg := DefaultRegistry()
	for _, e := range ackTable {
		ev, ok := reg.Decode(NewPacket(e.response, []byte{1}))
		require.True(t, ok, "request %s", e.request)
		assert.Equal(t, Ack{Name: e.name, Success: true}, ev)
	}
}
