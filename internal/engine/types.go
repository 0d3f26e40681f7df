package engine

import (
	"encoding/json"
	"mime"
	"path/filepath"
	"strings"
)

// ArtifactRef locates one producible output file on the engine.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	// Type is the engine's storage class, "output" for finished artifacts
	// and "input" or "temp" for intermediate files.
	Type string `json:"type"`
}

// MediaKind buckets artifacts by what the chat layer would send them as.
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAnimation
	MediaImage
	MediaOther
)

// Kind infers the media kind from the filename extension.
func (a ArtifactRef) Kind() MediaKind {
	switch strings.ToLower(filepath.Ext(a.Filename)) {
	case ".mp4", ".webm", ".mov", ".avi", ".mkv":
		return MediaVideo
	case ".gif":
		return MediaAnimation
	case ".png", ".jpg", ".jpeg", ".webp", ".bmp":
		return MediaImage
	}
	return MediaOther
}

// MIME guesses the artifact content type, defaulting to an opaque stream.
func (a ArtifactRef) MIME() string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(a.Filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// NodeOutput holds the named output slots of one graph node. Slot values that
// are not lists of file descriptors (progress numbers, text previews) are
// dropped during decoding; the engine's output schema is not stable enough to
// decode strictly.
type NodeOutput map[string][]ArtifactRef

// UnmarshalJSON decodes a node output map, keeping only slots whose entries
// carry a filename.
func (n *NodeOutput) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := NodeOutput{}
	for slot, val := range raw {
		var items []json.RawMessage
		if err := json.Unmarshal(val, &items); err != nil {
			continue
		}
		var refs []ArtifactRef
		for _, item := range items {
			var ref ArtifactRef
			if err := json.Unmarshal(item, &ref); err != nil {
				continue
			}
			if ref.Filename == "" {
				continue
			}
			if ref.Type == "" {
				ref.Type = "output"
			}
			refs = append(refs, ref)
		}
		if len(refs) > 0 {
			out[slot] = refs
		}
	}
	*n = out
	return nil
}

// HistoryStatus is the engine's own completion record for a submission.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// HistoryEntry is the per-submission record in the history payload.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// History is the engine's status payload keyed by submission handle.
type History map[string]HistoryEntry

// SystemStats is the engine's loosely shaped resource report.
type SystemStats map[string]any

// VRAMBudgetMB extracts a free (preferred) or total VRAM figure in megabytes.
// The engine reports devices either as a list or a single object, under a
// handful of key spellings, sometimes in bytes; all variants are tolerated.
func (s SystemStats) VRAMBudgetMB() (int, bool) {
	if len(s) == 0 {
		return 0, false
	}

	var sources []map[string]any
	switch devs := s["devices"].(type) {
	case []any:
		var cuda map[string]any
		for _, d := range devs {
			m, ok := d.(map[string]any)
			if !ok {
				continue
			}
			name, _ := m["type"].(string)
			if name == "" {
				name, _ = m["name"].(string)
			}
			if strings.HasPrefix(strings.ToLower(name), "cuda") {
				cuda = m
				break
			}
			if cuda == nil {
				cuda = m
			}
		}
		if cuda != nil {
			sources = append(sources, cuda)
		}
	case map[string]any:
		sources = append(sources, devs)
	}
	if sys, ok := s["system"].(map[string]any); ok {
		sources = append(sources, sys)
	}

	freeKeys := []string{"vram_free", "vram_free_mb", "gpu_vram_free", "free_vram", "free_vram_mb"}
	totalKeys := []string{"vram_total", "vram_total_mb", "gpu_vram_total", "total_vram", "total_vram_mb"}

	free, freeOK := lookupMB(sources, freeKeys)
	if freeOK {
		return free, true
	}
	return lookupMB(sources, totalKeys)
}

func lookupMB(sources []map[string]any, keys []string) (int, bool) {
	for _, src := range sources {
		for _, k := range keys {
			raw, ok := src[k]
			if !ok {
				continue
			}
			if mb, ok := toMB(raw); ok {
				return mb, true
			}
		}
	}
	return 0, false
}

func toMB(v any) (int, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	// Figures above 1 GiB are assumed to be bytes.
	if n > 1024*1024*1024 {
		return int(n / (1024 * 1024)), true
	}
	return int(n), true
}
