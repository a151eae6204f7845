package sim

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/waveline-labs/chatflow/flow"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateAnswer checks a free-text answer against an askQuestion node's
// validation rule. An unknown validation type, or a regex pattern that
// fails to compile, accepts the answer; the validator flags bad patterns
// at edit time and the conversation must not dead-end at run time.
func ValidateAnswer(answer string, data flow.NodeData) bool {
	answer = strings.TrimSpace(answer)

	switch data.ValidationType {
	case flow.ValidationNumber:
		_, err := strconv.ParseFloat(answer, 64)
		return err == nil
	case flow.ValidationEmail:
		return emailPattern.MatchString(answer)
	case flow.ValidationRegex:
		re, err := regexp.Compile(data.ValidationRegex)
		if err != nil {
			return true
		}
		return re.MatchString(answer)
	default:
		// text or unset: any non-empty answer passes when required.
		if data.Required {
			return answer != ""
		}
		return true
	}
}

// rejectionMessage returns the re-prompt text for a failed answer,
// preferring the node's configured error message.
func rejectionMessage(data flow.NodeData) string {
	if data.ErrorMessage != "" {
		return data.ErrorMessage
	}
	switch data.ValidationType {
	case flow.ValidationNumber:
		return "Please enter a valid number."
	case flow.ValidationEmail:
		return "Please enter a valid email address."
	default:
		return "That answer doesn't look right, please try again."
	}
}
