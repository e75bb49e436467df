package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// Decoder turns packets with one of its codes into an Event. A decoder that
// does not recognize the payload shape returns false and leaves the packet
// to the next candidate.
type Decoder interface {
	Codes() []Code
	TryDecode(p Packet) (Event, bool)
}

// Acknowledgement names, used as event keys for Ack events
const (
	AckStartPrint          = "startPrint"
	AckEndPrint            = "endPrint"
	AckStartPagePrint      = "startPagePrint"
	AckEndPagePrint        = "endPagePrint"
	AckSetDimension        = "setDimension"
	AckSetQuantity         = "setQuantity"
	AckAllowPrintClear     = "allowPrintClear"
	AckSetLabelDensity     = "setLabelDensity"
	AckSetLabelType        = "setLabelType"
	AckSetAutoShutdownTime = "setAutoShutdownTime"
	AckCancelPrint         = "cancelPrint"
)

type ackEntry struct {
	request  Code
	response Code
	name     string
}

// ackTable lists every command answered by a boolean acknowledgement
var ackTable = []ackEntry{
	{CodeStartPrint, CodeStartPrintAck, AckStartPrint},
	{CodeEndPrint, CodeEndPrintAck, AckEndPrint},
	{CodeStartPagePrint, CodeStartPagePrintAck, AckStartPagePrint},
	{CodeEndPagePrint, CodeEndPagePrintAck, AckEndPagePrint},
	{CodeSetDimension, CodeSetDimensionAck, AckSetDimension},
	{CodeSetQuantity, CodeSetQuantityAck, AckSetQuantity},
	{CodeAllowPrintClear, CodeAllowPrintClearAck, AckAllowPrintClear},
	{CodeSetLabelDensity, CodeSetLabelDensityAck, AckSetLabelDensity},
	{CodeSetLabelType, CodeSetLabelTypeAck, AckSetLabelType},
	{CodeSetAutoShutdownTime, CodeSetAutoShutdownTimeAck, AckSetAutoShutdownTime},
	{CodeCancelPrint, CodeCancelPrintAck, AckCancelPrint},
}

var ackNames, ackRequests = func() (map[Code]string, map[Code]ackEntry) {
	names := make(map[Code]string, len(ackTable))
	requests := make(map[Code]ackEntry, len(ackTable))
	for _, e := range ackTable {
		names[e.response] = e.name
		requests[e.request] = e
	}
	return names, requests
}()

// AckKey returns the event key acknowledging request, or "" when the
// command has no boolean acknowledgement.
func AckKey(request Code) string {
	return ackRequests[request].name
}

// AckCode returns the response code acknowledging request
func AckCode(request Code) (Code, bool) {
	e, ok := ackRequests[request]
	return e.response, ok
}

type SerialNumberDecoder struct{}

func (SerialNumberDecoder) Codes() []Code { return []Code{CodeInfoSerialNumber} }

func (SerialNumberDecoder) TryDecode(p Packet) (Event, bool) {
	if !utf8.Valid(p.payload) {
		return nil, false
	}
	return SerialNumber{Value: string(p.payload)}, true
}

type SoftwareVersionDecoder struct{}

func (SoftwareVersionDecoder) Codes() []Code { return []Code{CodeInfoSoftwareVersion} }

func (SoftwareVersionDecoder) TryDecode(p Packet) (Event, bool) {
	v, ok := fixedPoint(p.payload)
	if !ok {
		return nil, false
	}
	return SoftwareVersion{Version: v}, true
}

type HardwareVersionDecoder struct{}

func (HardwareVersionDecoder) Codes() []Code { return []Code{CodeInfoHardwareVersion} }

func (HardwareVersionDecoder) TryDecode(p Packet) (Event, bool) {
	v, ok := fixedPoint(p.payload)
	if !ok {
		return nil, false
	}
	return HardwareVersion{Version: v}, true
}

// fixedPoint reads a big-endian uint16 with two implied decimals
func fixedPoint(b []byte) (float64, bool) {
	if len(b) != 2 {
		return 0, false
	}
	return float64(binary.BigEndian.Uint16(b)) / 100, true
}

type BatteryDecoder struct{}

func (BatteryDecoder) Codes() []Code { return []Code{CodeInfoBattery} }

func (BatteryDecoder) TryDecode(p Packet) (Event, bool) {
	if len(p.payload) != 1 {
		return nil, false
	}
	return Battery{Level: p.payload[0]}, true
}

type DensityDecoder struct{}

func (DensityDecoder) Codes() []Code { return []Code{CodeInfoDensity} }

func (DensityDecoder) TryDecode(p Packet) (Event, bool) {
	if len(p.payload) != 1 {
		return nil, false
	}
	return Density{Value: p.payload[0]}, true
}

type LabelTypeDecoder struct{}

func (LabelTypeDecoder) Codes() []Code { return []Code{CodeInfoLabelType} }

func (LabelTypeDecoder) TryDecode(p Packet) (Event, bool) {
	if len(p.payload) != 1 {
		return nil, false
	}
	return LabelType{Value: p.payload[0]}, true
}

type AutoShutdownTimeDecoder struct{}

func (AutoShutdownTimeDecoder) Codes() []Code { return []Code{CodeInfoAutoShutdownTime} }

func (AutoShutdownTimeDecoder) TryDecode(p Packet) (Event, bool) {
	if len(p.payload) != 1 {
		return nil, false
	}
	return AutoShutdownTime{Value: p.payload[0]}, true
}

type DeviceTypeDecoder struct{}

func (DeviceTypeDecoder) Codes() []Code { return []Code{CodeInfoDeviceType} }

func (DeviceTypeDecoder) TryDecode(p Packet) (Event, bool) {
	if len(p.payload) != 2 {
		return nil, false
	}
	return DeviceType{Type: binary.BigEndian.Uint16(p.payload)}, true
}

// RFIDDecoder parses the label roll tag. A leading zero byte means no
// roll is installed.
type RFIDDecoder struct{}

func (RFIDDecoder) Codes() []Code { return []Code{CodeRFIDInfo} }

func (RFIDDecoder) TryDecode(p Packet) (Event, bool) {
	b := p.payload
	if len(b) > 0 && b[0] == 0 {
		return NoPaper{}, true
	}

	var ev RFID
	r := reader{b: b}
	copy(ev.UUID[:], r.next(8))
	ev.Barcode = string(r.next(int(r.byte())))
	ev.Serial = string(r.next(int(r.byte())))
	ev.Total = r.uint16()
	ev.Used = r.uint16()
	ev.Type = r.byte()
	if r.short {
		return nil, false
	}
	return ev, true
}

// PrintStatusDecoder accepts the 4, 8 and 10 byte payloads of the various
// device generations; only the first four bytes are interpreted.
type PrintStatusDecoder struct{}

func (PrintStatusDecoder) Codes() []Code { return []Code{CodeGetPrintStatus, CodePrintStatus} }

func (PrintStatusDecoder) TryDecode(p Packet) (Event, bool) {
	switch len(p.payload) {
	case 4, 8, 10:
	default:
		return nil, false
	}
	return PrintStatus{
		Page:      binary.BigEndian.Uint16(p.payload[0:2]),
		Progress1: p.payload[2],
		Progress2: p.payload[3],
	}, true
}

type PrinterCheckLineDecoder struct{}

func (PrinterCheckLineDecoder) Codes() []Code { return []Code{CodePrinterCheckLine} }

func (PrinterCheckLineDecoder) TryDecode(p Packet) (Event, bool) {
	if len(p.payload) != 3 {
		return nil, false
	}
	return PrinterCheckLine{
		Line:   binary.BigEndian.Uint16(p.payload[0:2]),
		Status: p.payload[2],
	}, true
}

// BoolAckDecoder handles every acknowledgement code with a one-byte
// success flag. The dimension acknowledgement may carry a second, unused
// byte.
type BoolAckDecoder struct{}

func (BoolAckDecoder) Codes() []Code {
	codes := make([]Code, 0, len(ackTable))
	for _, e := range ackTable {
		codes = append(codes, e.response)
	}
	return codes
}

func (BoolAckDecoder) TryDecode(p Packet) (Event, bool) {
	name, ok := ackNames[p.code]
	if !ok {
		return nil, false
	}
	switch {
	case len(p.payload) == 1:
	case len(p.payload) == 2 && p.code == CodeSetDimensionAck:
	default:
		return nil, false
	}
	return Ack{Name: name, Success: p.payload[0] != 0}, true
}

// reader walks a payload and records when it runs past the end
type reader struct {
	b     []byte
	short bool
}

func (r *reader) next(n int) []byte {
	if r.short || n > len(r.b) {
		r.short = true
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *reader) byte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}
