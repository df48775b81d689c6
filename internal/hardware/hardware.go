// Package hardware answers which hardware-encoder families the host can
// plausibly drive. It is a cheap pre-check: a reported class only means a
// trial encode is worth attempting, never that it will succeed.
package hardware

import (
	"context"
	"slices"
	"sort"
	"strings"
)

// Class is a hardware-encoder family.
type Class string

const (
	ClassNone         Class = "none" // Software encoding; always available.
	ClassNVIDIA       Class = "nvidia"
	ClassIntel        Class = "intel"
	ClassAMD          Class = "amd"
	ClassVAAPI        Class = "vaapi"
	ClassVideoToolbox Class = "videotoolbox"
)

// Classes is the result of one detection pass.
type Classes struct {
	Present      map[Class]string // Class -> evidence (e.g. "nvidia-smi: RTX 3060").
	VaapiDevices []string         // Render nodes, sorted.
	CPUVendor    string
	CPUModel     string
}

// NewClasses returns a Classes reporting exactly the given classes, with
// placeholder evidence. Used by callers that know the answer up front.
func NewClasses(cls ...Class) Classes {
	c := Classes{Present: make(map[Class]string, len(cls))}
	for _, cl := range cls {
		c.Present[cl] = "static"
	}
	return c
}

// Has reports whether class cl was detected. ClassNone is always present.
func (c Classes) Has(cl Class) bool {
	if cl == ClassNone {
		return true
	}
	_, ok := c.Present[cl]
	return ok
}

// List returns the detected classes in a stable order.
func (c Classes) List() []Class {
	out := make([]Class, 0, len(c.Present))
	for cl := range c.Present {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders e.g. "intel, vaapi" or "none".
func (c Classes) String() string {
	if len(c.Present) == 0 {
		return string(ClassNone)
	}
	parts := make([]string, 0, len(c.Present))
	for _, cl := range c.List() {
		parts = append(parts, string(cl))
	}
	return strings.Join(parts, ", ")
}

// DefaultVaapiDevice returns the first render node, or "" when none exists.
func (c Classes) DefaultVaapiDevice() string {
	if len(c.VaapiDevices) == 0 {
		return ""
	}
	return c.VaapiDevices[0]
}

func (c *Classes) add(cl Class, evidence string) {
	if c.Present == nil {
		c.Present = make(map[Class]string)
	}
	if _, ok := c.Present[cl]; !ok {
		c.Present[cl] = evidence
	}
}

// Detector reports the hardware classes present on the host.
type Detector interface {
	Detect(ctx context.Context) (Classes, error)
}

// Static is a Detector with a fixed answer.
type Static struct {
	Classes Classes
	Err     error
}

// Detect returns the fixed answer.
func (s Static) Detect(context.Context) (Classes, error) {
	return Classes{
		Present:      clonePresent(s.Classes.Present),
		VaapiDevices: slices.Clone(s.Classes.VaapiDevices),
		CPUVendor:    s.Classes.CPUVendor,
		CPUModel:     s.Classes.CPUModel,
	}, s.Err
}

func clonePresent(m map[Class]string) map[Class]string {
	out := make(map[Class]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
