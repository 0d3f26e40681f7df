package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
}

func TestLoaderIndexesTemplates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "flux_dev_fp8.json", `{"1": {"class_type": "KSampler", "inputs": {"seed": 1}}}`)
	writeTemplate(t, dir, "video_hunyuan15_720p_api.json", `{"1": {"class_type": "KSampler", "inputs": {"seed": 1}}}`)
	writeTemplate(t, dir, "notes.txt", "not a template")

	l := NewLoader(dir, zerolog.Nop())
	available := l.Available()
	if len(available) != 2 {
		t.Fatalf("indexed %d templates, want 2", len(available))
	}
	if available[0].Name != "flux_dev_fp8" || available[0].Kind != "flux" {
		t.Fatalf("first entry = %+v", available[0])
	}
	if available[1].Kind != "video" {
		t.Fatalf("second entry kind = %q, want video", available[1].Kind)
	}
	if !l.Exists("flux_dev_fp8") {
		t.Fatalf("Exists must report indexed templates")
	}
	if l.Exists("notes") {
		t.Fatalf("non-json files must not be indexed")
	}
}

func TestLoaderReturnsIsolatedCopies(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "image_base.json", `{"1": {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 8}}}`)

	l := NewLoader(dir, zerolog.Nop())
	first, err := l.Load("image_base")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	first["1"].Inputs["steps"] = 99

	second, err := l.Load("image_base")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := second["1"].Inputs["steps"]; got != float64(8) {
		t.Fatalf("template was mutated through a loaded copy: steps = %v", got)
	}
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "empty.json", `{}`)
	writeTemplate(t, dir, "broken.json", `{not json`)

	l := NewLoader(dir, zerolog.Nop())
	if _, err := l.Load("missing"); err == nil {
		t.Fatalf("expected an error for an unknown template")
	}
	if _, err := l.Load("empty"); err == nil {
		t.Fatalf("expected an error for a template without nodes")
	}
	if _, err := l.Load("broken"); err == nil {
		t.Fatalf("expected an error for invalid JSON")
	}
}

func TestLoaderMissingDirectory(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	if got := len(l.Available()); got != 0 {
		t.Fatalf("available = %d, want 0", got)
	}
	if _, err := l.Load("anything"); err == nil {
		t.Fatalf("expected an error")
	}
}
