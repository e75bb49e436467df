//go:build !linux && !windows

package printer

import (
	"context"

	"go.uber.org/zap"
)

// Binding is unavailable on this platform; use a serial port directly
type Binding struct {
	DevicePath string
	MAC        string
}

func ListPairedDevices(ctx context.Context) ([]BluetoothDevice, error) {
	return nil, ErrNotSupported
}

func Bind(ctx context.Context, dev BluetoothDevice, channel int, log *zap.Logger) (*Binding, error) {
	return nil, ErrNotSupported
}

func (b *Binding) Ready() bool {
	return false
}

func (b *Binding) Close() error {
	return nil
}
