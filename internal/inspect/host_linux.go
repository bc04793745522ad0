//go:build linux

package inspect

import "golang.org/x/sys/unix"

// hostInfo fills in kernel and memory facts from the running system.
func hostInfo() HostInfo {
	info := baseHostInfo()

	var u unix.Utsname
	if err := unix.Uname(&u); err == nil {
		info.Kernel = unix.ByteSliceToString(u.Release[:])
	}

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		unit := uint64(si.Unit)
		if unit == 0 {
			unit = 1
		}
		info.UptimeSeconds = int64(si.Uptime)
		info.TotalRAMBytes = uint64(si.Totalram) * unit
		info.FreeRAMBytes = uint64(si.Freeram) * unit
		info.Processes = int(si.Procs)
	}
	return info
}
