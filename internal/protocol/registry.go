package protocol

// Registry dispatches packets to an ordered list of decoders.
// Order matters: a specific decoder must precede a generic one that claims
// the same code.
type Registry struct {
	decoders []Decoder
}

// NewRegistry builds a registry evaluating decoders in the given order
func NewRegistry(decoders ...Decoder) *Registry {
	return &Registry{decoders: decoders}
}

// DefaultRegistry returns the registry for every known response
func DefaultRegistry() *Registry {
	return NewRegistry(
		SerialNumberDecoder{},
		SoftwareVersionDecoder{},
		HardwareVersionDecoder{},
		BatteryDecoder{},
		DeviceTypeDecoder{},
		RFIDDecoder{},
		PrintStatusDecoder{},
		AutoShutdownTimeDecoder{},
		DensityDecoder{},
		LabelTypeDecoder{},
		PrinterCheckLineDecoder{},
		BoolAckDecoder{},
	)
}

// Decode returns the event produced by the first decoder accepting p
func (r *Registry) Decode(p Packet) (Event, bool) {
	for _, d := range r.decoders {
		if !claims(d, p.code) {
			continue
		}
		if ev, ok := d.TryDecode(p); ok {
			return ev, true
		}
	}
	return nil, false
}

func claims(d Decoder, code Code) bool {
	for _, c := range d.Codes() {
		if c == code {
			return true
		}
	}
	return false
}

// Decoders returns the registered decoders in evaluation order
func (r *Registry) Decoders() []Decoder {
	out := make([]Decoder, len(r.decoders))
	copy(out, r.decoders)
	return out
}
