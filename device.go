package blurb

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// Device is the compute device the model runs on.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// DetectDevice resolves a device preference. "cpu" and "cuda" are returned
// as is, "auto" (or empty) picks cuda when the NVIDIA driver tools are
// installed.
func DetectDevice(pref string, logger *slog.Logger) (Device, error) {
	var d Device
	switch Device(pref) {
	case DeviceCPU, DeviceCUDA:
		d = Device(pref)
	case DeviceAuto, "":
		d = DeviceCPU
		if _, err := lookPath("nvidia-smi"); err == nil {
			d = DeviceCUDA
		}
	default:
		return "", fmt.Errorf("unknown device %q", pref)
	}

	if logger != nil {
		logger.Info("Using device", "device", d, "half_precision", d.HalfPrecision())
	}
	return d, nil
}

// HalfPrecision reports whether fp16 weights are used on this device.
func (d Device) HalfPrecision() bool {
	return d == DeviceCUDA
}
