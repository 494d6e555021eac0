package proposal

import (
	"fmt"
	"strings"
)

// MaxDescriptionLength bounds the stored description text.
const MaxDescriptionLength = 3000

// BasicValidator implements DescriptionValidator with structural checks only.
// Natural-language validation is an external collaborator and not part of
// this module.
type BasicValidator struct{}

func (BasicValidator) ValidateDescription(text string) (bool, string) {
	if strings.TrimSpace(text) == "" {
		return false, "the description can't be empty"
	}
	if len(text) > MaxDescriptionLength {
		return false, fmt.Sprintf("the description exceeds the limit of %d characters", MaxDescriptionLength)
	}
	return true, ""
}
