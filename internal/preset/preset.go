// Package preset holds the ordered quality/resource tiers for video
// generation and the downgrade policy applied when the engine runs out of
// device memory.
package preset

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is one named bundle of resource/quality parameters. Presets are
// ordered cheapest first; the controller only ever moves toward cheaper
// entries within one job.
type Preset struct {
	Name        string  `yaml:"name"`
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	Frames      int     `yaml:"frames"`
	FPS         int     `yaml:"fps"`
	Steps       int     `yaml:"steps"`
	CFG         float64 `yaml:"cfg"`
	BatchSize   int     `yaml:"batch_size"`
	WeightDtype string  `yaml:"weight_dtype"`
	// MinVRAMMB is the free-memory floor required to start at this tier.
	MinVRAMMB int `yaml:"min_vram_mb"`
}

// Defaults mirrors the tiers the service ships with.
func Defaults() []Preset {
	return []Preset{
		{Name: "360p", Width: 640, Height: 360, Frames: 25, FPS: 12, Steps: 12, CFG: 5.5, BatchSize: 1, WeightDtype: "fp8_e4m3fn_fast", MinVRAMMB: 0},
		{Name: "480p", Width: 854, Height: 480, Frames: 33, FPS: 12, Steps: 18, CFG: 6.2, BatchSize: 1, WeightDtype: "fp8_e4m3fn_fast", MinVRAMMB: 8500},
		{Name: "720p", Width: 1280, Height: 720, Frames: 49, FPS: 16, Steps: 20, CFG: 6.2, BatchSize: 1, WeightDtype: "fp8_e4m3fn_fast", MinVRAMMB: 11000},
	}
}

// Controller picks starting tiers and orders downgrade attempts.
type Controller struct {
	presets []Preset
}

// NewController validates the cheapest-first ordering and returns a
// controller over the given tiers; nil or empty falls back to Defaults.
func NewController(presets []Preset) (*Controller, error) {
	if len(presets) == 0 {
		presets = Defaults()
	}
	for i := 1; i < len(presets); i++ {
		if presets[i].MinVRAMMB < presets[i-1].MinVRAMMB {
			return nil, fmt.Errorf("preset %q out of order: tiers must be cheapest first", presets[i].Name)
		}
	}
	return &Controller{presets: presets}, nil
}

// Load reads a preset table from a YAML file.
func Load(path string) (*Controller, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var doc struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	return NewController(doc.Presets)
}

// Presets exposes the ordered tier table.
func (c *Controller) Presets() []Preset {
	return c.presets
}

// At returns the preset at index i.
func (c *Controller) At(i int) Preset {
	return c.presets[i]
}

// PickStartIndex maps free-VRAM headroom (megabytes) to the most expensive
// tier it covers. Unknown headroom selects the cheapest tier. The quality
// flag raises the floor by one tier when the computed start is the cheapest.
func (c *Controller) PickStartIndex(headroomMB int, headroomKnown, quality bool) int {
	idx := 0
	if headroomKnown {
		for i := len(c.presets) - 1; i >= 0; i-- {
			if headroomMB >= c.presets[i].MinVRAMMB {
				idx = i
				break
			}
		}
	}
	if quality && idx < 1 && len(c.presets) > 1 {
		idx = 1
	}
	return idx
}

// AttemptSequence lists tier indices from start down to the cheapest. The
// controller never attempts a tier more expensive than the starting choice.
func (c *Controller) AttemptSequence(start int) []int {
	if start >= len(c.presets) {
		start = len(c.presets) - 1
	}
	if start < 0 {
		start = 0
	}
	seq := make([]int, 0, start+1)
	for i := start; i >= 0; i-- {
		seq = append(seq, i)
	}
	return seq
}

// The engine reports memory exhaustion only as free-form error text, and the
// exact phrasing changes between engine versions. The known signatures live
// in this one function so updates never touch control flow.
var oomSignatures = []string{
	"out of memory",
	"cuda oom",
	"allocation on device",
	"oom",
}

// IsResourceExhaustion classifies error text as a memory-exhaustion failure.
func IsResourceExhaustion(errText string) bool {
	if errText == "" {
		return false
	}
	lower := strings.ToLower(errText)
	for _, sig := range oomSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
