package tuner

import (
	"math"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// ramPerWorkerGB is the available RAM budgeted for each scan worker.
// A scan tool plus its TLS handshakes comfortably fits in 2GB.
const ramPerWorkerGB = 2.0

// Advice is the advisor's proposal for a run.
type Advice struct {
	// Suggested is the worker count offered to the operator.
	Suggested int

	// HardCap is the largest worker count the operator may confirm.
	HardCap int

	// CPUBound and RAMBound are the individual limits HardCap was taken from.
	CPUBound int
	RAMBound int

	// Snapshot is the reading the advice was derived from.
	Snapshot types.ResourceSnapshot
}

// Suggest returns the worker advice for a snapshot.
//
// The calculation logic:
//   - CPUBound: one core is left for the orchestrator and the OS, so
//     max(1, cores-1)
//   - RAMBound: max(1, floor(available_gb / 2))
//   - HardCap: min(CPUBound, RAMBound, ceiling)
//
// A ceiling below 1 falls back to types.DefaultWorkerCeiling.
func Suggest(snap types.ResourceSnapshot, ceiling int) Advice {
	if ceiling < 1 {
		ceiling = types.DefaultWorkerCeiling
	}

	cpuBound := max(1, snap.CoreCount-1)
	ramBound := max(1, int(math.Floor(snap.AvailableRAMGB/ramPerWorkerGB)))
	hardCap := min(cpuBound, ramBound, ceiling)

	return Advice{
		Suggested: hardCap,
		HardCap:   hardCap,
		CPUBound:  cpuBound,
		RAMBound:  ramBound,
		Snapshot:  snap,
	}
}

// Accept clamps an operator request to [1, HardCap].
// A request of 0 or less means "take the suggestion".
func (a Advice) Accept(requested int) int {
	if requested <= 0 {
		return a.Suggested
	}
	return types.ClampWorkers(requested, a.HardCap)
}

// Limiter returns the dominant constraint behind HardCap, for display.
func (a Advice) Limiter() string {
	switch a.HardCap {
	case a.CPUBound:
		return "cpu"
	case a.RAMBound:
		return "ram"
	default:
		return "ceiling"
	}
}
