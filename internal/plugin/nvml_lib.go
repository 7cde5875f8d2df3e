// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"log/slog"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlLib is the production nvmlBackend backed by the NVML shared library
type nvmlLib struct {
	logger *slog.Logger
}

var _ nvmlBackend = (*nvmlLib)(nil)

func (n *nvmlLib) Init() error {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nvmlError("initialize NVML", ret)
	}
	return nil
}

func (n *nvmlLib) Shutdown() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return nvmlError("shutdown NVML", ret)
	}
	return nil
}

func (n *nvmlLib) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, nvmlError("count devices", ret)
	}
	return count, nil
}

func (n *nvmlLib) DeviceEnergy(index int) (uint64, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return 0, nvmlError(fmt.Sprintf("get device %d", index), ret)
	}
	energy, ret := dev.GetTotalEnergyConsumption()
	if ret != nvml.SUCCESS {
		return 0, nvmlError(fmt.Sprintf("read energy of device %d", index), ret)
	}
	return energy, nil
}

func (n *nvmlLib) DevicePower(index int) (uint32, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return 0, nvmlError(fmt.Sprintf("get device %d", index), ret)
	}
	power, ret := dev.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return 0, nvmlError(fmt.Sprintf("read power of device %d", index), ret)
	}
	return power, nil
}

// nvmlError maps an NVML return code onto the plugin error taxonomy
func nvmlError(op string, ret nvml.Return) error {
	switch ret {
	case nvml.ERROR_LIBRARY_NOT_FOUND, nvml.ERROR_DRIVER_NOT_LOADED, nvml.ERROR_NOT_FOUND:
		return fmt.Errorf("%w: %s: %s", ErrDeviceNotFound, op, nvml.ErrorString(ret))
	case nvml.ERROR_NO_PERMISSION:
		return fmt.Errorf("%w: %s: %s", ErrPermissionDenied, op, nvml.ErrorString(ret))
	case nvml.ERROR_NOT_SUPPORTED, nvml.ERROR_GPU_IS_LOST, nvml.ERROR_UNKNOWN:
		return fmt.Errorf("%w: %s: %s", ErrSensor, op, nvml.ErrorString(ret))
	default:
		return fmt.Errorf("%s: %s", op, nvml.ErrorString(ret))
	}
}
