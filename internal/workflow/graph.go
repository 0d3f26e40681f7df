package workflow

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"renderbot/internal/preset"
)

// Node is one operation in an engine job graph. Inputs mix literal values and
// [nodeID, slot] references to other nodes' outputs.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is the engine's job description: node id to node. Graphs are
// parameterized in place by the injectors below; every injector tolerates
// absent keys because template shapes vary per workflow.
type Graph map[string]*Node

// promptKeys are the input names known to carry positive prompt text.
var promptKeys = []string{
	"text",
	"prompt",
	"positive",
	"positive_prompt",
	"prompt_text",
	"text_g",
	"text_l",
	"clip_text",
	"conditioning_text",
}

var negativeHints = []string{"negative", "neg", "bad", "undesired"}

func isNegativeField(key string) bool {
	k := strings.ToLower(key)
	for _, hint := range negativeHints {
		if strings.Contains(k, hint) {
			return true
		}
	}
	return false
}

type promptTarget struct {
	nodeID string
	key    string
}

func (g Graph) promptTargets() []promptTarget {
	var targets []promptTarget
	for nodeID, node := range g {
		if node == nil || node.Inputs == nil {
			continue
		}
		for _, key := range promptKeys {
			if _, ok := node.Inputs[key].(string); ok && !isNegativeField(key) {
				targets = append(targets, promptTarget{nodeID: nodeID, key: key})
			}
		}
	}
	if len(targets) == 0 {
		// Fallback: any string input mentioning prompt or text, skipping
		// negative fields and text encoders conventionally numbered as the
		// negative branch.
		for nodeID, node := range g {
			if node == nil || node.Inputs == nil {
				continue
			}
			if node.ClassType == "CLIPTextEncode" {
				if idx, err := strconv.Atoi(nodeID); err == nil && idx >= 3 {
					continue
				}
			}
			for key, val := range node.Inputs {
				if _, ok := val.(string); !ok {
					continue
				}
				lk := strings.ToLower(key)
				if isNegativeField(lk) {
					continue
				}
				if strings.Contains(lk, "prompt") || strings.Contains(lk, "text") {
					targets = append(targets, promptTarget{nodeID: nodeID, key: key})
				}
			}
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].nodeID != targets[j].nodeID {
			return targets[i].nodeID < targets[j].nodeID
		}
		return targets[i].key < targets[j].key
	})
	return targets
}

// InjectPrompt writes the positive prompt into every recognized text field
// and, when given, the negative prompt into negative-looking fields. Fails
// when the graph exposes no text field at all.
func (g Graph) InjectPrompt(prompt, negative string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("workflow: empty prompt")
	}

	updated := 0
	for _, target := range g.promptTargets() {
		g[target.nodeID].Inputs[target.key] = prompt
		updated++
	}
	if updated == 0 {
		return fmt.Errorf("workflow: no prompt-capable text field found in graph")
	}

	if negative = strings.TrimSpace(negative); negative != "" {
		for _, node := range g {
			if node == nil || node.Inputs == nil {
				continue
			}
			for key, val := range node.Inputs {
				if _, ok := val.(string); ok && isNegativeField(key) {
					node.Inputs[key] = negative
				}
			}
		}
	}
	return nil
}

// InjectSampling randomizes the seed everywhere one exists and softly applies
// steps and guidance where those keys already exist.
func (g Graph) InjectSampling(steps int, cfg float64) {
	seed := rand.Int63n(2_000_000_000) + 1
	for _, node := range g {
		if node == nil || node.Inputs == nil {
			continue
		}
		for _, key := range []string{"seed", "noise_seed"} {
			if _, ok := node.Inputs[key]; ok {
				node.Inputs[key] = seed
			}
		}
		if steps > 0 {
			if _, ok := node.Inputs["steps"]; ok {
				node.Inputs["steps"] = steps
			}
		}
		if cfg > 0 {
			for _, key := range []string{"cfg", "guidance", "guidance_scale"} {
				if _, ok := node.Inputs[key]; ok {
					node.Inputs[key] = cfg
				}
			}
		}
	}
}

// InjectResolution sets width/height wherever the graph exposes them.
func (g Graph) InjectResolution(width, height int) {
	for _, node := range g {
		if node == nil || node.Inputs == nil {
			continue
		}
		if width > 0 {
			if _, ok := node.Inputs["width"]; ok {
				node.Inputs["width"] = width
			}
		}
		if height > 0 {
			if _, ok := node.Inputs["height"]; ok {
				node.Inputs["height"] = height
			}
		}
	}
}

// InjectInputImage points image-loading nodes at an uploaded input file.
// LoadImage nodes are preferred; the first other string "image" input is a
// fallback. Reports whether anything was injected.
func (g Graph) InjectInputImage(filename string) bool {
	injected := false
	for _, node := range g {
		if node == nil || node.Inputs == nil {
			continue
		}
		if !strings.Contains(node.ClassType, "LoadImage") {
			continue
		}
		if _, ok := node.Inputs["image"].(string); ok {
			node.Inputs["image"] = filename
			injected = true
		}
	}
	if !injected {
		for _, node := range g {
			if node == nil || node.Inputs == nil {
				continue
			}
			if _, ok := node.Inputs["image"].(string); ok {
				node.Inputs["image"] = filename
				injected = true
				break
			}
		}
	}
	return injected
}

// InjectDenoise softly applies a denoise strength where the key exists.
func (g Graph) InjectDenoise(denoise float64) {
	if denoise <= 0 {
		return
	}
	for _, node := range g {
		if node == nil || node.Inputs == nil {
			continue
		}
		if _, ok := node.Inputs["denoise"]; ok {
			node.Inputs["denoise"] = denoise
		}
	}
}

// InjectPreset re-parameterizes the graph with one quality tier's values.
// Key spellings vary between video node packs, so each parameter tries its
// known aliases.
func (g Graph) InjectPreset(p preset.Preset) {
	g.InjectResolution(p.Width, p.Height)
	for _, node := range g {
		if node == nil || node.Inputs == nil {
			continue
		}
		setFirstPresent(node.Inputs, []string{"num_frames", "frames", "length", "frame_count"}, p.Frames)
		setFirstPresent(node.Inputs, []string{"fps", "frame_rate"}, p.FPS)
		if p.Steps > 0 {
			if _, ok := node.Inputs["steps"]; ok {
				node.Inputs["steps"] = p.Steps
			}
		}
		if p.CFG > 0 {
			for _, key := range []string{"cfg", "guidance", "guidance_scale"} {
				if _, ok := node.Inputs[key]; ok {
					node.Inputs[key] = p.CFG
				}
			}
		}
		if p.BatchSize > 0 {
			if _, ok := node.Inputs["batch_size"]; ok {
				node.Inputs["batch_size"] = p.BatchSize
			}
		}
		if p.WeightDtype != "" {
			if _, ok := node.Inputs["weight_dtype"]; ok {
				node.Inputs["weight_dtype"] = p.WeightDtype
			}
		}
	}
}

func setFirstPresent(inputs map[string]any, keys []string, value int) {
	if value <= 0 {
		return
	}
	for _, key := range keys {
		if _, ok := inputs[key]; ok {
			inputs[key] = value
			return
		}
	}
}

// InputsWith returns every inputs map containing the given key.
func (g Graph) InputsWith(key string) []map[string]any {
	var out []map[string]any
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := g[id]
		if node == nil || node.Inputs == nil {
			continue
		}
		if _, ok := node.Inputs[key]; ok {
			out = append(out, node.Inputs)
		}
	}
	return out
}

// CurrentValue returns the first string value of key across the graph.
func (g Graph) CurrentValue(key string) string {
	for _, inputs := range g.InputsWith(key) {
		if s, ok := inputs[key].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
