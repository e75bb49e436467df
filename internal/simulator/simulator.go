// Package simulator emulates a Niimbot printer behind a NotifyTransport.
// It answers requests the way a D11 does, optionally fragmenting responses
// and injecting line noise, and is used by tests and the demo mode.
package simulator

import (
	"encoding/binary"
	"sync"

	"niimbot-print/internal/printer"
	"niimbot-print/internal/protocol"
)

// Simulator is a fake printer. Configure its fields before opening the
// transport.
type Simulator struct {
	Serial          string
	SoftwareVersion uint16 // hundredths
	HardwareVersion uint16 // hundredths
	DeviceType      uint16
	Battery         uint8
	Density         uint8
	LabelType       uint8
	AutoShutdown    uint8
	// RFID describes the installed roll; nil reports no paper
	RFID *protocol.RFID

	// ChunkSize fragments every response into notifications of this size
	ChunkSize int
	// Noise prefixes every response with a garbage byte
	Noise bool
	// NoiseByte is the garbage byte, 0x3C when zero
	NoiseByte byte
	// StatusStep is the progress added per status poll once the page ended
	StatusStep uint8

	mu        sync.Mutex
	framer    *protocol.Framer
	transport *printer.NotifyTransport
	fail      map[protocol.Code]bool
	silent    map[protocol.Code]bool
	received  []protocol.Packet
	rows      int
	pageEnded bool
	progress  uint8
}

// New returns a simulator with plausible D11 defaults
func New() *Simulator {
	s := &Simulator{
		Serial:          "H821000123",
		SoftwareVersion: 522,
		HardwareVersion: 256,
		DeviceType:      512,
		Battery:         4,
		Density:         3,
		LabelType:       1,
		AutoShutdown:    2,
		RFID: &protocol.RFID{
			UUID:    [8]byte{0x8A, 0x30, 0x41, 0x5C, 0x10, 0x2B, 0x00, 0x01},
			Barcode: "6972842743565",
			Serial:  "PZ1G21204000217",
			Total:   160,
			Used:    12,
			Type:    1,
		},
		StatusStep: 50,
		framer:     protocol.NewFramer(),
		fail:       make(map[protocol.Code]bool),
		silent:     make(map[protocol.Code]bool),
	}
	s.transport = printer.NewNotifyTransport(s.receive)
	return s
}

// Transport returns the host side of the simulated link
func (s *Simulator) Transport() *printer.NotifyTransport {
	return s.transport
}

// Fail makes the printer acknowledge request with a false result
func (s *Simulator) Fail(request protocol.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[request] = true
}

// Silence makes the printer ignore request
func (s *Simulator) Silence(request protocol.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[request] = true
}

// Received returns every request seen so far
func (s *Simulator) Received() []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Packet, len(s.received))
	copy(out, s.received)
	return out
}

// Codes returns the codes of every request seen, in order
func (s *Simulator) Codes() []protocol.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Code, len(s.received))
	for i, p := range s.received {
		out[i] = p.Code()
	}
	return out
}

// Rows returns the number of bitmap rows received since the last StartPrint
func (s *Simulator) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// receive is the link's write side: it reassembles request frames and
// answers each one
func (s *Simulator) receive(chunk []byte) error {
	s.mu.Lock()
	var responses []protocol.Packet
	for _, req := range s.framer.Feed(chunk) {
		s.received = append(s.received, req)
		if s.silent[req.Code()] {
			continue
		}
		if resp, ok := s.answer(req); ok {
			responses = append(responses, resp)
		}
	}
	s.mu.Unlock()

	for _, resp := range responses {
		s.deliver(protocol.Encode(resp))
	}
	return nil
}

func (s *Simulator) deliver(frame []byte) {
	if s.Noise {
		noise := s.NoiseByte
		if noise == 0 {
			noise = 0x3C
		}
		frame = append([]byte{noise}, frame...)
	}
	size := s.ChunkSize
	if size <= 0 {
		size = len(frame)
	}
	for i := 0; i < len(frame); i += size {
		s.transport.Deliver(frame[i:min(i+size, len(frame))])
	}
}

// answer builds the response to req; s.mu is held
func (s *Simulator) answer(req protocol.Packet) (protocol.Packet, bool) {
	payload := req.Payload()

	switch req.Code() {
	case protocol.CodeGetInfo:
		if len(payload) != 1 {
			return protocol.Packet{}, false
		}
		return s.info(protocol.InfoKey(payload[0]))
	case protocol.CodeGetRFID:
		return protocol.NewPacket(protocol.CodeRFIDInfo, s.rfidPayload()), true
	case protocol.CodeGetPrintStatus:
		if s.pageEnded {
			s.progress = uint8(min(100, int(s.progress)+int(s.StatusStep)))
		}
		status := make([]byte, 10)
		binary.BigEndian.PutUint16(status, 1)
		status[2] = s.progress
		status[3] = s.progress
		return protocol.NewPacket(protocol.CodePrintStatus, status), true
	case protocol.CodePrintBitmapRow:
		s.rows++
		return protocol.Packet{}, false
	case protocol.CodeStartPrint:
		s.rows, s.pageEnded, s.progress = 0, false, 0
	case protocol.CodeEndPagePrint:
		s.pageEnded = true
	case protocol.CodeSetAutoShutdownTime, protocol.CodeSetLabelDensity, protocol.CodeSetLabelType:
		if len(payload) == 1 && !s.fail[req.Code()] {
			s.store(req.Code(), payload[0])
		}
	}

	code, ok := protocol.AckCode(req.Code())
	if !ok {
		return protocol.Packet{}, false
	}
	result := byte(1)
	if s.fail[req.Code()] {
		result = 0
	}
	if code == protocol.CodeSetDimensionAck {
		return protocol.NewPacket(code, []byte{result, 0}), true
	}
	return protocol.NewPacket(code, []byte{result}), true
}

// store applies an accepted setter
func (s *Simulator) store(code protocol.Code, v uint8) {
	switch code {
	case protocol.CodeSetAutoShutdownTime:
		s.AutoShutdown = v
	case protocol.CodeSetLabelDensity:
		s.Density = v
	case protocol.CodeSetLabelType:
		s.LabelType = v
	}
}

func (s *Simulator) info(key protocol.InfoKey) (protocol.Packet, bool) {
	var value []byte
	switch key {
	case protocol.InfoSerialNumber:
		value = []byte(s.Serial)
	case protocol.InfoSoftwareVersion:
		value = binary.BigEndian.AppendUint16(nil, s.SoftwareVersion)
	case protocol.InfoHardwareVersion:
		value = binary.BigEndian.AppendUint16(nil, s.HardwareVersion)
	case protocol.InfoDeviceType:
		value = binary.BigEndian.AppendUint16(nil, s.DeviceType)
	case protocol.InfoBattery:
		value = []byte{s.Battery}
	case protocol.InfoDensity:
		value = []byte{s.Density}
	case protocol.InfoLabelType:
		value = []byte{s.LabelType}
	case protocol.InfoAutoShutdownTime:
		value = []byte{s.AutoShutdown}
	default:
		return protocol.Packet{}, false
	}
	return protocol.NewPacket(key.ResponseCode(), value), true
}

func (s *Simulator) rfidPayload() []byte {
	if s.RFID == nil {
		return []byte{0x00}
	}
	r := s.RFID
	b := append([]byte{}, r.UUID[:]...)
	b = append(b, byte(len(r.Barcode)))
	b = append(b, r.Barcode...)
	b = append(b, byte(len(r.Serial)))
	b = append(b, r.Serial...)
	b = binary.BigEndian.AppendUint16(b, r.Total)
	b = binary.BigEndian.AppendUint16(b, r.Used)
	return append(b, r.Type)
}
