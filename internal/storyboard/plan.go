package storyboard

import (
	"fmt"
	"strings"
)

// BuildPlan expands a movie concept into an ordered scene plan. Each scene
// carries its own prompt so generation tasks stay independent.
func BuildPlan(prompt string, sceneCount int, sceneDurationSeconds float64) []Scene {
	prompt = strings.TrimSpace(prompt)
	if sceneCount <= 0 {
		return nil
	}
	scenes := make([]Scene, sceneCount)
	for i := range scenes {
		scenes[i] = Scene{
			Description: fmt.Sprintf("%s (part %d of %d)", prompt, i+1, sceneCount),
			Prompt: fmt.Sprintf(
				"Generate scene %d of %d for this movie concept: %s",
				i+1, sceneCount, prompt,
			),
			TargetDurationSeconds: sceneDurationSeconds,
		}
	}
	return scenes
}
