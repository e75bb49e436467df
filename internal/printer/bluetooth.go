package printer

import (
	"errors"
	"strings"
)

// Common errors
var (
	ErrNoDevicesFound     = errors.New("no paired Bluetooth devices found")
	ErrRFCOMMFailed       = errors.New("failed to establish RFCOMM connection")
	ErrPrivilegeRequired  = errors.New("root privileges required for RFCOMM")
	ErrConnectionCanceled = errors.New("connection canceled")
	ErrNotSupported       = errors.New("operation not supported on this platform")
)

// BluetoothDevice represents a paired Bluetooth device
type BluetoothDevice struct {
	Name string
	MAC  string // MAC address on Linux, or COM port on Windows
}

// modelPrefixes are the advertised name prefixes of supported printers
var modelPrefixes = []string{"d11", "d110", "b1", "b18", "b21", "niimbot"}

// IsNiimbot guesses from the advertised name whether d is a supported printer
func (d BluetoothDevice) IsNiimbot() bool {
	name := strings.ToLower(d.Name)
	for _, prefix := range modelPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Model returns the model part of names like "D11-H123456789"
func (d BluetoothDevice) Model() string {
	name, _, _ := strings.Cut(d.Name, "-")
	return strings.ToUpper(strings.TrimSpace(name))
}

// PickDevice returns the index of the first supported printer, or 0
func PickDevice(devices []BluetoothDevice) int {
	for i, d := range devices {
		if d.IsNiimbot() {
			return i
		}
	}
	return 0
}

// DefaultChannel is the RFCOMM channel Niimbot printers serve SPP on
const DefaultChannel = 1

// parsePairedDevices reads `bluetoothctl devices` output, lines of the form
// "Device XX:XX:XX:XX:XX:XX Name"
func parsePairedDevices(out string) []BluetoothDevice {
	var devices []BluetoothDevice
	for _, line := range strings.Split(out, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Device ")
		if !ok {
			continue
		}
		mac, name, ok := strings.Cut(rest, " ")
		if !ok {
			continue
		}
		devices = append(devices, BluetoothDevice{MAC: mac, Name: strings.TrimSpace(name)})
	}
	return devices
}
