package inspect

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HostInfo describes the process and host running the simulation.
type HostInfo struct {
	OS            string   `json:"os"`
	Arch          string   `json:"arch"`
	CPUs          int      `json:"cpus"`
	GoVersion     string   `json:"go_version"`
	CPUFeatures   []string `json:"cpu_features,omitempty"`
	Kernel        string   `json:"kernel,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds,omitempty"`
	TotalRAMBytes uint64   `json:"total_ram_bytes,omitempty"`
	FreeRAMBytes  uint64   `json:"free_ram_bytes,omitempty"`
	Processes     int      `json:"processes,omitempty"`
}

func baseHostInfo() HostInfo {
	return HostInfo{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		CPUs:        runtime.NumCPU(),
		GoVersion:   runtime.Version(),
		CPUFeatures: cpuFeatures(),
	}
}

// cpuFeatures reports the host's vector and crypto capabilities for the
// architecture actually running the process.
func cpuFeatures() []string {
	var fs []string
	add := func(name string, has bool) {
		if has {
			fs = append(fs, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add("sse2", cpu.X86.HasSSE2)
		add("sse42", cpu.X86.HasSSE42)
		add("avx", cpu.X86.HasAVX)
		add("avx2", cpu.X86.HasAVX2)
		add("avx512f", cpu.X86.HasAVX512F)
		add("aes", cpu.X86.HasAES)
	case "arm64":
		add("fp", cpu.ARM64.HasFP)
		add("asimd", cpu.ARM64.HasASIMD)
		add("aes", cpu.ARM64.HasAES)
		add("sha2", cpu.ARM64.HasSHA2)
		add("crc32", cpu.ARM64.HasCRC32)
		add("atomics", cpu.ARM64.HasATOMICS)
	case "arm":
		add("neon", cpu.ARM.HasNEON)
		add("vfpv4", cpu.ARM.HasVFPv4)
	}
	return fs
}
