package layer

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// DeviceType represents the hardware device used for computation.
type DeviceType int

const (
	CPU DeviceType = iota
)

// Device describes the hardware the layers run on.
type Device interface {
	Type() DeviceType
	IsAvailable() bool
	Describe() string
}

// CPUDevice handles computations on the host CPU.
type CPUDevice struct{}

func (d *CPUDevice) Type() DeviceType  { return CPU }
func (d *CPUDevice) IsAvailable() bool { return true }

// Describe reports the CPU model, core counts and the SIMD extensions
// relevant to the float32 kernels.
func (d *CPUDevice) Describe() string {
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	simd := "none"
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		simd = "avx512"
	case cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3):
		simd = "avx2+fma"
	case cpuid.CPU.Supports(cpuid.ASIMD):
		simd = "neon"
	}
	return fmt.Sprintf("cpu=%q physical_cores=%d logical_cores=%d simd=%s",
		brand, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, simd)
}

// GetDefaultDevice returns the best available device for the current platform.
func GetDefaultDevice() Device {
	return &CPUDevice{}
}
