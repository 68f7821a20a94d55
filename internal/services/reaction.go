package services

import (
	"fmt"
	"strings"

	"github.com/forPelevin/gomoji"
)

// validateReaction accepts a string made of exactly one emoji.
func validateReaction(reaction string) (string, error) {
	reaction = strings.TrimSpace(reaction)
	emojis := gomoji.CollectAll(reaction)
	switch {
	case len(emojis) != 1:
		return "", fmt.Errorf("%w: reaction must be a single emoji", ErrInvalidInput)
	case emojis[0].Character != reaction:
		return "", fmt.Errorf("%w: reaction must not contain other characters", ErrInvalidInput)
	}
	return reaction, nil
}
