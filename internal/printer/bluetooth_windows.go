//go:build windows

package printer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/registry"
)

const serialCommKey = `HARDWARE\DEVICEMAP\SERIALCOMM`

// Binding on Windows is the COM port the Bluetooth stack created for a
// paired SPP device; nothing has to be set up or torn down.
type Binding struct {
	DevicePath string
	MAC        string
}

// ListPairedDevices returns the Bluetooth COM ports from the registry,
// falling back to every serial port
func ListPairedDevices(ctx context.Context) ([]BluetoothDevice, error) {
	var devices []BluetoothDevice
	if ports, err := serialCommPorts(true); err == nil {
		for name, port := range ports {
			devices = append(devices, BluetoothDevice{Name: name, MAC: port})
		}
	}
	if len(devices) == 0 {
		ports, err := ListSerialPorts()
		if err != nil {
			return nil, err
		}
		for _, port := range ports {
			devices = append(devices, BluetoothDevice{Name: port, MAC: port})
		}
	}
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return devices, nil
}

// serialCommPorts maps device names to COM ports, optionally only those
// owned by the Bluetooth stack
func serialCommPorts(bluetoothOnly bool) (map[string]string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, serialCommKey, registry.READ)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	names, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	ports := make(map[string]string, len(names))
	for _, name := range names {
		lower := strings.ToLower(name)
		if bluetoothOnly && !strings.Contains(lower, "bth") && !strings.Contains(lower, "bluetooth") {
			continue
		}
		if val, _, err := key.GetStringValue(name); err == nil {
			ports[name] = val
		}
	}
	return ports, nil
}

// Bind resolves the COM port of dev; its MAC field holds the port name
func Bind(ctx context.Context, dev BluetoothDevice, channel int, log *zap.Logger) (*Binding, error) {
	port := dev.MAC
	if !strings.HasPrefix(strings.ToUpper(port), "COM") {
		return nil, fmt.Errorf("%w: invalid COM port %q", ErrRFCOMMFailed, port)
	}
	path := port
	// COM10 and up need the device namespace prefix
	if len(port) > 4 {
		path = `\\.\` + port
	}
	if log != nil {
		log.Info("bluetooth: using COM port", zap.String("port", port), zap.String("name", dev.Name))
	}
	return &Binding{DevicePath: path, MAC: port}, nil
}

func (b *Binding) Ready() bool {
	return b.DevicePath != ""
}

func (b *Binding) Close() error {
	return nil
}
