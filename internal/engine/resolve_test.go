package engine

import (
	"encoding/json"
	"testing"
)

func historyFrom(t *testing.T, raw string) History {
	t.Helper()
	var h History
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return h
}

func TestResolvePrefersVideoOverImage(t *testing.T) {
	h := historyFrom(t, `{
		"job-1": {"outputs": {
			"9":  {"images": [{"filename": "a.png", "subfolder": "", "type": "output"}]},
			"12": {"videos": [{"filename": "b.mp4", "subfolder": "video", "type": "output"}]}
		}}
	}`)

	ref, ok := Resolve(h, "job-1")
	if !ok {
		t.Fatalf("expected a resolved artifact")
	}
	if ref.Filename != "b.mp4" {
		t.Fatalf("resolved %q, want b.mp4", ref.Filename)
	}
	if ref.Subfolder != "video" {
		t.Fatalf("subfolder = %q, want video", ref.Subfolder)
	}
}

func TestResolveExtensionBeatsSlotName(t *testing.T) {
	// An mp4 sitting in an "images" slot still wins over a png in a
	// better-ranked slot.
	h := historyFrom(t, `{
		"job-2": {"outputs": {
			"3": {"video":  [{"filename": "preview.png"}]},
			"7": {"images": [{"filename": "final.mp4"}]}
		}}
	}`)

	ref, ok := Resolve(h, "job-2")
	if !ok {
		t.Fatalf("expected a resolved artifact")
	}
	if ref.Filename != "final.mp4" {
		t.Fatalf("resolved %q, want final.mp4", ref.Filename)
	}
}

func TestResolveSlotRankBreaksTies(t *testing.T) {
	h := historyFrom(t, `{
		"job-3": {"outputs": {
			"5": {"gifs":   [{"filename": "loop.mp4"}]},
			"6": {"videos": [{"filename": "clip.mp4"}]}
		}}
	}`)

	ref, ok := Resolve(h, "job-3")
	if !ok {
		t.Fatalf("expected a resolved artifact")
	}
	if ref.Filename != "clip.mp4" {
		t.Fatalf("resolved %q, want clip.mp4 from the videos slot", ref.Filename)
	}
}

func TestResolveUnknownSlotRanksLast(t *testing.T) {
	h := historyFrom(t, `{
		"job-4": {"outputs": {
			"2": {"whatever": [{"filename": "x.png"}]},
			"4": {"images":   [{"filename": "y.png"}]}
		}}
	}`)

	ref, ok := Resolve(h, "job-4")
	if !ok {
		t.Fatalf("expected a resolved artifact")
	}
	if ref.Filename != "y.png" {
		t.Fatalf("resolved %q, want y.png", ref.Filename)
	}
}

func TestResolveAbsence(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no entry", `{}`},
		{"empty outputs", `{"job-5": {"outputs": {}}}`},
		{"no file entries", `{"job-5": {"outputs": {"1": {"progress": [42], "text": ["hi"]}}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := historyFrom(t, tc.raw)
			if _, ok := Resolve(h, "job-5"); ok {
				t.Fatalf("expected no artifact")
			}
		})
	}
}

func TestNodeOutputDecodeDropsNonFileSlots(t *testing.T) {
	var n NodeOutput
	raw := `{
		"images": [{"filename": "out.png", "subfolder": "s"}],
		"counter": 3,
		"tags": ["a", "b"],
		"broken": [{"subfolder": "no-name"}]
	}`
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(n) != 1 {
		t.Fatalf("kept %d slots, want 1 (images)", len(n))
	}
	refs := n["images"]
	if len(refs) != 1 || refs[0].Filename != "out.png" {
		t.Fatalf("images slot = %+v", refs)
	}
	if refs[0].Type != "output" {
		t.Fatalf("missing type should default to output, got %q", refs[0].Type)
	}
}

func TestArtifactKindAndMIME(t *testing.T) {
	cases := []struct {
		filename string
		kind     MediaKind
	}{
		{"clip.MP4", MediaVideo},
		{"clip.webm", MediaVideo},
		{"loop.gif", MediaAnimation},
		{"pic.png", MediaImage},
		{"pic.JPEG", MediaImage},
		{"data.latent", MediaOther},
	}
	for _, tc := range cases {
		ref := ArtifactRef{Filename: tc.filename}
		if got := ref.Kind(); got != tc.kind {
			t.Fatalf("%s: kind = %d, want %d", tc.filename, got, tc.kind)
		}
	}
	if got := (ArtifactRef{Filename: "data.latent"}).MIME(); got != "application/octet-stream" {
		t.Fatalf("unknown extension MIME = %q", got)
	}
}

func TestVRAMBudgetMB(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		want  int
		known bool
	}{
		{
			"device list with cuda free bytes",
			`{"devices": [{"type": "cpu"}, {"type": "cuda:0", "vram_free": 12884901888, "vram_total": 25769803776}]}`,
			12288, true,
		},
		{
			"single device object in megabytes",
			`{"devices": {"name": "cuda", "vram_free_mb": 9500}}`,
			9500, true,
		},
		{
			"total only",
			`{"devices": [{"type": "cuda:0", "vram_total": 8192}]}`,
			8192, true,
		},
		{
			"system fallback",
			`{"system": {"free_vram_mb": 7000}}`,
			7000, true,
		},
		{"empty", `{}`, 0, false},
		{"no memory keys", `{"devices": [{"type": "cuda:0"}]}`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stats SystemStats
			if err := json.Unmarshal([]byte(tc.raw), &stats); err != nil {
				t.Fatalf("decode: %v", err)
			}
			got, known := stats.VRAMBudgetMB()
			if known != tc.known {
				t.Fatalf("known = %v, want %v", known, tc.known)
			}
			if got != tc.want {
				t.Fatalf("budget = %d, want %d", got, tc.want)
			}
		})
	}
}
