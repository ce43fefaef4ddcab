// Package agent implements the miniprobe probe: it collects host telemetry
// with gopsutil and pushes it to the server data plane.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/vesaa/miniprobe/internal/models"
)

// Source produces the static host description sent when a session opens and
// one sample per scrape tick.
type Source interface {
	HostInfo(ctx context.Context) (models.HostInfo, error)
	Collect(ctx context.Context) (models.Sample, error)
}

var ErrNoInterface = errors.New("no usable network interface")

// Collector is the gopsutil-backed Source.
type Collector struct {
	iface string
	now   func() time.Time
}

// NewCollector reports counters for iface, or for the first active
// non-loopback interface when iface is empty.
func NewCollector(ctx context.Context, iface string) (*Collector, error) {
	list, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	name, err := pickInterface(list, iface)
	if err != nil {
		return nil, err
	}
	return &Collector{iface: name, now: time.Now}, nil
}

func (c *Collector) Interface() string { return c.iface }

// HostInfo returns the static metadata for CreateSession.
func (c *Collector) HostInfo(ctx context.Context) (models.HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return models.HostInfo{}, fmt.Errorf("host info: %w", err)
	}
	hi := models.HostInfo{
		SystemName:    info.OS,
		KernelVersion: info.KernelVersion,
		OSVersion:     osVersion(info.Platform, info.PlatformVersion),
		HostName:      info.Hostname,
		CPUArch:       info.KernelArch,
	}
	if hi.CPUArch == "" {
		hi.CPUArch = runtime.GOARCH
	}
	return hi, nil
}

// Collect takes one sample. CPU usage is the per-core busy fraction since the
// previous call; network counters are cumulative since boot.
func (c *Collector) Collect(ctx context.Context) (models.Sample, error) {
	sample := models.Sample{SampleTime: c.now().Unix()}

	pcts, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return sample, fmt.Errorf("cpu usage: %w", err)
	}
	for i, p := range pcts {
		sample.CPU = append(sample.CPU, models.CPUReading{Core: i, Usage: p / 100})
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("memory: %w", err)
	}
	m := &models.MemoryReading{Total: vm.Total, Used: vm.Used}
	// swap is optional on some platforms
	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		m.SwapTotal = sw.Total
		m.SwapUsed = sw.Used
	}
	sample.Memory = m

	sample.Network = []models.NetworkReading{c.netCounters(ctx)}
	return sample, nil
}

// netCounters leaves rx/tx nil when the counters cannot be read.
func (c *Collector) netCounters(ctx context.Context) models.NetworkReading {
	reading := models.NetworkReading{IfName: c.iface}
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return reading
	}
	for _, st := range stats {
		if st.Name == c.iface {
			rx, tx := st.BytesRecv, st.BytesSent
			reading.RxBytes = &rx
			reading.TxBytes = &tx
			break
		}
	}
	return reading
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// pickInterface validates an explicit name or picks the first interface that
// is up, not loopback and has an address.
func pickInterface(list psnet.InterfaceStatList, name string) (string, error) {
	if name != "" {
		for _, iface := range list {
			if iface.Name == name {
				return name, nil
			}
		}
		return "", fmt.Errorf("network interface %q not found: %w", name, ErrNoInterface)
	}
	for _, iface := range list {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		if len(iface.Addrs) == 0 {
			continue
		}
		return iface.Name, nil
	}
	return "", ErrNoInterface
}

// osVersion joins platform and version, e.g. "ubuntu 22.04".
func osVersion(platform, version string) string {
	switch {
	case platform == "":
		return version
	case version == "":
		return platform
	default:
		return platform + " " + version
	}
}
