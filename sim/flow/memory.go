package flow

import (
	"errors"
	"math"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
)

// MemoryProbe reports the memory available for new simulations, in bytes.
type MemoryProbe func() (uint64, error)

// ProcMemoryProbe reads MemAvailable from /proc/meminfo.
func ProcMemoryProbe() (MemoryProbe, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return func() (uint64, error) {
		mi, err := fs.Meminfo()
		if err != nil {
			return 0, err
		}
		switch {
		case mi.MemAvailableBytes != nil:
			return *mi.MemAvailableBytes, nil
		case mi.MemAvailable != nil:
			return *mi.MemAvailable * 1024, nil
		default:
			return 0, errors.New("meminfo does not report MemAvailable")
		}
	}, nil
}

// DefaultMemoryProbe returns the procfs probe, or, where /proc is not
// available, a probe that never limits admission.
func DefaultMemoryProbe() MemoryProbe {
	probe, err := ProcMemoryProbe()
	if err != nil {
		logrus.Warnf("[monitor] free memory unavailable (%v); admission limited by pool size only", err)
		return Unlimited
	}
	return probe
}

// Unlimited reports unbounded free memory.
func Unlimited() (uint64, error) { return math.MaxUint64, nil }

// FixedMemory reports a constant amount of free memory.
func FixedMemory(bytes uint64) MemoryProbe {
	return func() (uint64, error) { return bytes, nil }
}
