package hardware

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/backmassage/sessionmux/internal/ffmpeg"
)

// System detects hardware from the running host: nvidia-smi, lspci, DRM
// render nodes, the OS, and the CPU vendor. The first Detect result is
// memoized for the life of the System.
type System struct {
	Runner  ffmpeg.Runner
	Timeout time.Duration // Per external tool; default 5s.

	// Overridable for tests.
	RenderGlob string // Default "/dev/dri/renderD*".
	GOOS       string // Default runtime.GOOS.
	CPUInfo    func(ctx context.Context) ([]cpu.InfoStat, error)

	mu     sync.Mutex
	done   bool
	result Classes
}

// NewSystem returns a System detector that shells out through r.
func NewSystem(r ffmpeg.Runner) *System {
	return &System{
		Runner:     r,
		Timeout:    5 * time.Second,
		RenderGlob: "/dev/dri/renderD*",
		GOOS:       runtime.GOOS,
		CPUInfo:    cpu.InfoWithContext,
	}
}

// Detect runs every signal once; later calls return the memoized result.
// A signal that cannot be read (tool missing, permission denied) is simply
// absent from the result, so Detect itself never fails.
func (s *System) Detect(ctx context.Context) (Classes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.result, nil
	}

	var c Classes
	s.detectNVIDIA(ctx, &c)
	s.detectPCI(ctx, &c)
	s.detectRenderNodes(&c)
	s.detectCPU(ctx, &c)
	if s.GOOS == "darwin" {
		c.add(ClassVideoToolbox, "darwin")
	}

	s.result, s.done = c, true
	return c, nil
}

func (s *System) detectNVIDIA(ctx context.Context, c *Classes) {
	res := s.Runner.Run(ctx, ffmpeg.Command{
		Name:    "nvidia-smi",
		Args:    []string{"--query-gpu=name", "--format=csv,noheader"},
		Timeout: s.Timeout,
	})
	if !res.OK() {
		return
	}
	if name := firstLine(string(res.Stdout)); name != "" {
		c.add(ClassNVIDIA, "nvidia-smi: "+name)
	}
}

func (s *System) detectPCI(ctx context.Context, c *Classes) {
	res := s.Runner.Run(ctx, ffmpeg.Command{Name: "lspci", Timeout: s.Timeout})
	if !res.OK() {
		return
	}
	for cl, line := range ParseLSPCI(string(res.Stdout)) {
		c.add(cl, "lspci: "+line)
	}
}

func (s *System) detectRenderNodes(c *Classes) {
	nodes, _ := filepath.Glob(s.RenderGlob)
	if len(nodes) == 0 {
		return
	}
	sort.Strings(nodes)
	c.VaapiDevices = nodes
	c.add(ClassVAAPI, nodes[0])
}

// detectCPU records the CPU vendor. An Intel CPU only counts as Intel
// evidence when a render node exists too: server parts and headless VMs
// report GenuineIntel with no iGPU for QSV to drive. It runs after the PCI
// and render-node signals so both are known here.
func (s *System) detectCPU(ctx context.Context, c *Classes) {
	if s.CPUInfo == nil {
		return
	}
	infos, err := s.CPUInfo(ctx)
	if err != nil || len(infos) == 0 {
		return
	}
	c.CPUVendor = infos[0].VendorID
	c.CPUModel = strings.TrimSpace(infos[0].ModelName)
	if c.CPUVendor == "GenuineIntel" && len(c.VaapiDevices) > 0 {
		c.add(ClassIntel, "cpu: "+c.CPUModel+" + "+c.VaapiDevices[0])
	}
}

// ParseLSPCI maps display-controller lines in lspci output to GPU vendor
// classes. The returned line is the first matching controller per class.
func ParseLSPCI(out string) map[Class]string {
	found := make(map[Class]string)
	for _, line := range strings.Split(out, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga compatible controller") &&
			!strings.Contains(lower, "3d controller") &&
			!strings.Contains(lower, "display controller") {
			continue
		}
		var cl Class
		switch {
		case strings.Contains(lower, "nvidia"):
			cl = ClassNVIDIA
		case strings.Contains(lower, "intel"):
			cl = ClassIntel
		case strings.Contains(lower, "advanced micro devices"),
			strings.Contains(lower, "amd"),
			strings.Contains(lower, "ati technologies"),
			strings.Contains(lower, "radeon"):
			cl = ClassAMD
		default:
			continue
		}
		if _, ok := found[cl]; !ok {
			found[cl] = strings.TrimSpace(line)
		}
	}
	return found
}

// HostSummary describes the OS, kernel and CPU for diagnostics output.
func HostSummary(ctx context.Context) string {
	var parts []string
	if hi, err := host.InfoWithContext(ctx); err == nil {
		parts = append(parts, fmt.Sprintf("%s %s (%s, kernel %s)", hi.Platform, hi.PlatformVersion, hi.OS, hi.KernelVersion))
	} else {
		parts = append(parts, runtime.GOOS+"/"+runtime.GOARCH)
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		parts = append(parts, strings.TrimSpace(infos[0].ModelName))
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		parts = append(parts, fmt.Sprintf("%d threads", n))
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
