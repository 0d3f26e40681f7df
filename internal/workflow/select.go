package workflow

import (
	"fmt"
	"strings"
)

func chooseByHint(available []string, hint string) string {
	h := strings.ToLower(hint)
	for _, name := range available {
		if strings.Contains(strings.ToLower(name), h) {
			return name
		}
	}
	return ""
}

// ChooseCheckpoint picks a model checkpoint for a workflow from the engine's
// available set. A checkpoint already valid in the template wins; otherwise
// the workflow name hints at the model family.
func ChooseCheckpoint(available []string, workflowName, current string) (string, error) {
	if len(available) == 0 {
		return "", fmt.Errorf("workflow: engine reports no checkpoints")
	}
	for _, name := range available {
		if current != "" && name == current {
			return current, nil
		}
	}

	w := strings.ToLower(workflowName)

	// Hunyuan video graphs load weights through dedicated nodes, not a
	// checkpoint field.
	if strings.Contains(w, "hunyuan") {
		return "", nil
	}

	if strings.Contains(w, "flux_dev") {
		if pick := firstHint(available, "flux1-dev", "dev-fp8"); pick != "" {
			return pick, nil
		}
	}
	if strings.Contains(w, "flux_schnell") {
		if pick := firstHint(available, "flux1-schnell", "schnell-fp8"); pick != "" {
			return pick, nil
		}
	}
	if strings.Contains(w, "sdxl") || strings.Contains(w, "xl") || strings.Contains(w, "photo") {
		if pick := firstHint(available, "RealVisXL", "JuggernautXL", "sd_xl_base"); pick != "" {
			return pick, nil
		}
	}
	return available[0], nil
}

// ChooseUnet picks a UNET by workflow-name hint, defaulting to the first
// available.
func ChooseUnet(available []string, workflowName, current string) (string, error) {
	if len(available) == 0 {
		return "", fmt.Errorf("workflow: engine reports no UNET models")
	}
	for _, name := range available {
		if current != "" && name == current {
			return current, nil
		}
	}

	w := strings.ToLower(workflowName)
	for _, hint := range []string{"kontext", "fill", "dev", "schnell"} {
		if strings.Contains(w, hint) {
			if pick := chooseByHint(available, hint); pick != "" {
				return pick, nil
			}
		}
	}
	return available[0], nil
}

func firstHint(available []string, hints ...string) string {
	for _, hint := range hints {
		if pick := chooseByHint(available, hint); pick != "" {
			return pick
		}
	}
	return ""
}
