//go:build !linux

package inspect

// hostInfo reports the portable subset on platforms without sysinfo.
func hostInfo() HostInfo {
	return baseHostInfo()
}
