package engine

import (
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// systemMemUsage returns used system memory as a fraction of total.
func systemMemUsage() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}

// pidAlive reports whether pid names a running process. Unknown pids
// (0) are assumed alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return true
	}
	ok, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return ok
}
