package media

import (
	"fmt"
	"strings"

	"github.com/yungbote/kidslab-backend/internal/domain"
)

const (
	// EmptyPrompt is used when there are no steps to illustrate.
	EmptyPrompt = "Children's book illustration"

	houseStyle = `The style should be "children's book illustration, colorful, warm, simple, clean lines".`
	baseStyle  = houseStyle + ` If any text is included in the image, it MUST be in Japanese.`
)

// PanelCount is the number of panels the combined image has for n steps.
func PanelCount(n int) int {
	switch {
	case n <= 0:
		return 0
	case n == 1:
		return 1
	case n == 2:
		return 2
	default:
		return 4
	}
}

// BuildCombinedPrompt merges step visual descriptions into one panel layout:
// one illustration, a left/right split, or a 2x2 grid with empty slots for
// missing steps.
func BuildCombinedPrompt(steps []domain.ExplanationStep) string {
	switch PanelCount(len(steps)) {
	case 0:
		return EmptyPrompt
	case 1:
		return strings.Join([]string{
			"Create an illustration for a children's book.",
			baseStyle,
			"Description: " + steps[0].VisualDescription,
		}, "\n")
	case 2:
		return strings.Join([]string{
			"Create a split-screen image divided vertically into 2 equal panels (Left and Right).",
			baseStyle,
			"Panel 1 (Left): " + steps[0].VisualDescription,
			"Panel 2 (Right): " + steps[1].VisualDescription,
		}, "\n")
	}
	slots := [4]string{"Top-Left", "Top-Right", "Bottom-Left", "Bottom-Right"}
	lines := []string{
		"Create a comic strip style image divided into 4 equal panels (2x2 grid).",
		baseStyle,
	}
	for i, slot := range slots {
		desc := ""
		if i < len(steps) {
			desc = steps[i].VisualDescription
		}
		lines = append(lines, fmt.Sprintf("Panel %d (%s): %s", i+1, slot, desc))
	}
	return strings.Join(lines, "\n")
}

// BuildStepImagePrompt is the single-panel prompt for one step's own image.
func BuildStepImagePrompt(visualDescription string) string {
	return BuildCombinedPrompt([]domain.ExplanationStep{{StepNumber: 1, VisualDescription: visualDescription}})
}

// BuildSingleImagePrompt asks the text model to write an image prompt for a
// summary-only answer.
func BuildSingleImagePrompt(question, summary string) string {
	r := []rune(summary)
	if len(r) > 100 {
		r = r[:100]
	}
	return strings.Join([]string{
		"Create a prompt for an image generation AI to illustrate the following answer for a child.",
		houseStyle,
		"The image should visually explain the answer.",
		"",
		"Question: " + question,
		"Answer Summary: " + string(r) + "...",
		"",
		"Output ONLY the English prompt for image generation.",
	}, "\n")
}

// FallbackImagePrompt is used when no image prompt could be written.
func FallbackImagePrompt(question string) string {
	return fmt.Sprintf("Illustration for %s, children's book style", question)
}
