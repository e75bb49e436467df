//go:build linux

package printer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const bindTimeout = 15 * time.Second

// Binding is a live RFCOMM binding of a printer to a /dev/rfcommN node.
// The node exists as long as the `rfcomm connect` process runs.
type Binding struct {
	DevicePath string
	MAC        string

	log    *zap.Logger
	cmd    *exec.Cmd
	helper []string
	cancel context.CancelFunc
	mu     sync.Mutex
}

// ListPairedDevices asks bluez for the paired devices
func ListPairedDevices(ctx context.Context) ([]BluetoothDevice, error) {
	out, err := exec.CommandContext(ctx, "bluetoothctl", "devices", "Paired").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list paired devices: %w", err)
	}
	devices := parsePairedDevices(string(out))
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return devices, nil
}

// freeRFCOMMSlot returns the first /dev/rfcommN not bound yet
func freeRFCOMMSlot() (string, error) {
	for i := 0; i < 10; i++ {
		path := "/dev/rfcomm" + strconv.Itoa(i)
		out, _ := exec.Command("rfcomm", "show", path).Output()
		if len(out) == 0 || strings.Contains(string(out), "No such device") {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no free rfcomm slot", ErrRFCOMMFailed)
}

// privilegeHelper returns the command prefix used to run rfcomm as root
func privilegeHelper() ([]string, error) {
	if os.Geteuid() == 0 {
		return nil, nil
	}
	if _, err := exec.LookPath("pkexec"); err == nil {
		return []string{"pkexec"}, nil
	}
	if _, err := exec.LookPath("sudo"); err == nil {
		return []string{"sudo", "-n"}, nil
	}
	return nil, ErrPrivilegeRequired
}

func rfcommCommand(ctx context.Context, helper []string, args ...string) *exec.Cmd {
	argv := append(append([]string{}, helper...), "rfcomm")
	argv = append(argv, args...)
	return exec.CommandContext(ctx, argv[0], argv[1:]...)
}

// Bind connects dev over RFCOMM and waits for the device node to appear
func Bind(ctx context.Context, dev BluetoothDevice, channel int, log *zap.Logger) (*Binding, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := exec.LookPath("rfcomm"); err != nil {
		return nil, fmt.Errorf("%w: rfcomm not found, install bluez", ErrRFCOMMFailed)
	}
	helper, err := privilegeHelper()
	if err != nil {
		return nil, err
	}
	path, err := freeRFCOMMSlot()
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := rfcommCommand(procCtx, helper, "connect", path, dev.MAC, strconv.Itoa(channel))
	b := &Binding{DevicePath: path, MAC: dev.MAC, log: log, cmd: cmd, cancel: cancel, helper: helper}

	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()
	log.Info("bluetooth: binding", zap.String("mac", dev.MAC), zap.String("name", dev.Name), zap.String("path", path))
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrRFCOMMFailed, err)
	}
	go b.logOutput(stdout)
	go b.logOutput(stderr)

	deadline := time.NewTimer(bindTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Close()
			return nil, ErrConnectionCanceled
		case <-deadline.C:
			b.Close()
			return nil, fmt.Errorf("%w: timed out waiting for %s", ErrRFCOMMFailed, path)
		case <-tick.C:
			if b.Ready() {
				log.Info("bluetooth: bound", zap.String("path", path))
				return b, nil
			}
		}
	}
}

func (b *Binding) logOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		b.log.Debug("rfcomm", zap.String("line", scanner.Text()))
	}
}

// Ready reports whether the device node exists
func (b *Binding) Ready() bool {
	if b.DevicePath == "" {
		return false
	}
	_, err := os.Stat(b.DevicePath)
	return err == nil
}

// Close stops the rfcomm process and releases the node
func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		return nil
	}

	b.cancel()
	if err := rfcommCommand(context.Background(), b.helper, "release", b.DevicePath).Run(); err != nil {
		b.log.Debug("bluetooth: release failed", zap.String("path", b.DevicePath), zap.Error(err))
	}
	b.cmd.Wait()
	b.cmd = nil
	b.log.Info("bluetooth: released", zap.String("path", b.DevicePath))
	return nil
}
