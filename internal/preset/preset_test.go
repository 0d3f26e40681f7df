package preset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNewControllerRejectsMisorderedTiers(t *testing.T) {
	_, err := NewController([]Preset{
		{Name: "big", MinVRAMMB: 9000},
		{Name: "small", MinVRAMMB: 0},
	})
	if err == nil {
		t.Fatalf("expected an ordering error")
	}
}

func TestNewControllerDefaults(t *testing.T) {
	c, err := NewController(nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if len(c.Presets()) != 3 {
		t.Fatalf("default tiers = %d, want 3", len(c.Presets()))
	}
	if c.At(0).Name != "360p" || c.At(2).Name != "720p" {
		t.Fatalf("unexpected default ordering: %v", c.Presets())
	}
}

func TestPickStartIndex(t *testing.T) {
	c, err := NewController(nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	cases := []struct {
		name     string
		headroom int
		known    bool
		quality  bool
		want     int
	}{
		{"unknown headroom starts cheapest", 0, false, false, 0},
		{"unknown headroom with quality floor", 0, false, true, 1},
		{"below mid tier", 8000, true, false, 0},
		{"exactly mid tier", 8500, true, false, 1},
		{"between mid and top", 10000, true, false, 1},
		{"top tier", 11000, true, false, 2},
		{"well above top", 24000, true, false, 2},
		{"quality does not lower chosen tier", 24000, true, true, 2},
		{"quality raises only the cheapest start", 8000, true, true, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.PickStartIndex(tc.headroom, tc.known, tc.quality); got != tc.want {
				t.Fatalf("start = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAttemptSequence(t *testing.T) {
	c, err := NewController(nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	cases := []struct {
		start int
		want  []int
	}{
		{2, []int{2, 1, 0}},
		{1, []int{1, 0}},
		{0, []int{0}},
		{99, []int{2, 1, 0}},
		{-1, []int{0}},
	}
	for _, tc := range cases {
		if got := c.AttemptSequence(tc.start); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("sequence(%d) = %v, want %v", tc.start, got, tc.want)
		}
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	doc := `presets:
  - name: tiny
    width: 320
    height: 180
    frames: 17
    fps: 8
    steps: 10
    cfg: 5.0
    batch_size: 1
    weight_dtype: fp8_e4m3fn_fast
    min_vram_mb: 0
  - name: full
    width: 1280
    height: 720
    frames: 49
    fps: 16
    steps: 20
    cfg: 6.2
    batch_size: 1
    weight_dtype: fp8_e4m3fn_fast
    min_vram_mb: 11000
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write presets file: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Presets()) != 2 {
		t.Fatalf("tiers = %d, want 2", len(c.Presets()))
	}
	tiny := c.At(0)
	if tiny.Name != "tiny" || tiny.Width != 320 || tiny.CFG != 5.0 || tiny.MinVRAMMB != 0 {
		t.Fatalf("tiny tier = %+v", tiny)
	}
	if c.At(1).MinVRAMMB != 11000 {
		t.Fatalf("full tier = %+v", c.At(1))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestIsResourceExhaustion(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"CUDA out of memory. Tried to allocate 2.50 GiB", true},
		{"torch.OutOfMemoryError: Allocation on device 0", true},
		{"cuda OOM while loading model", true},
		{"HIP error: oom", true},
		{"value not in list: ckpt_name", false},
		{"connection refused", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsResourceExhaustion(tc.text); got != tc.want {
			t.Fatalf("IsResourceExhaustion(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
