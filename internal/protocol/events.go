package protocol

import "fmt"

// Event keys published on the event bus
const (
	KeySerialNumber     = "serialNumber"
	KeySoftwareVersion  = "softwareVersion"
	KeyHardwareVersion  = "hardwareVersion"
	KeyBattery          = "battery"
	KeyDeviceType       = "deviceType"
	KeyRFID             = "rfid"
	KeyNoPaper          = "noPaper"
	KeyPrintStatus      = "printStatus"
	KeyAutoShutdownTime = "autoShutdownTime"
	KeyDensity          = "density"
	KeyLabelType        = "labelType"
	KeyPrinterCheckLine = "printerCheckLine"
)

// Event is a typed fact decoded from a response packet
type Event interface {
	Key() string
}

// Outcome is implemented by events that carry a success flag
type Outcome interface {
	Succeeded() bool
}

type SerialNumber struct {
	Value string
}

func (SerialNumber) Key() string { return KeySerialNumber }

// SoftwareVersion is the firmware version, e.g. 5.10
type SoftwareVersion struct {
	Version float64
}

func (SoftwareVersion) Key() string { return KeySoftwareVersion }

type HardwareVersion struct {
	Version float64
}

func (HardwareVersion) Key() string { return KeyHardwareVersion }

// Battery is the reported charge level
type Battery struct {
	Level uint8
}

func (Battery) Key() string { return KeyBattery }

type DeviceType struct {
	Type uint16
}

func (DeviceType) Key() string { return KeyDeviceType }

// RFID describes the label roll installed in the printer
type RFID struct {
	UUID    [8]byte
	Barcode string
	Serial  string
	Total   uint16
	Used    uint16
	Type    uint8
}

func (RFID) Key() string { return KeyRFID }

// UUIDString returns the tag id as lowercase hex
func (r RFID) UUIDString() string {
	return fmt.Sprintf("%x", r.UUID[:])
}

// Remaining returns how many labels are left on the roll
func (r RFID) Remaining() int {
	return int(r.Total) - int(r.Used)
}

// NoPaper is reported instead of RFID when no roll is installed
type NoPaper struct{}

func (NoPaper) Key() string { return KeyNoPaper }

// PrintStatus reports job progress. Progress2 reaches 100 when the
// printer has finished the whole job.
type PrintStatus struct {
	Page      uint16
	Progress1 uint8
	Progress2 uint8
}

func (PrintStatus) Key() string { return KeyPrintStatus }

// Succeeded reports whether the overall job progress is complete
func (s PrintStatus) Succeeded() bool { return s.Progress2 >= 100 }

// Ack is the boolean acknowledgement of a set/start/end command
type Ack struct {
	Name    string
	Success bool
}

func (a Ack) Key() string { return a.Name }

func (a Ack) Succeeded() bool { return a.Success }

// AutoShutdownTime is the idle shutdown setting index
type AutoShutdownTime struct {
	Value uint8
}

func (AutoShutdownTime) Key() string { return KeyAutoShutdownTime }

type Density struct {
	Value uint8
}

func (Density) Key() string { return KeyDensity }

type LabelType struct {
	Value uint8
}

func (LabelType) Key() string { return KeyLabelType }

// PrinterCheckLine is emitted by the printer while rows stream in
type PrinterCheckLine struct {
	Line   uint16
	Status uint8
}

func (PrinterCheckLine) Key() string { return KeyPrinterCheckLine }
