package sim

import (
	"testing"

	"github.com/waveline-labs/chatflow/flow"
)

func TestValidateAnswer(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		data   flow.NodeData
		want   bool
	}{
		{"text accepts anything", "whatever", flow.NodeData{ValidationType: flow.ValidationText}, true},
		{"text required rejects empty", "  ", flow.NodeData{ValidationType: flow.ValidationText, Required: true}, false},
		{"text optional accepts empty", "", flow.NodeData{ValidationType: flow.ValidationText}, true},
		{"unset type accepts", "hi", flow.NodeData{}, true},

		{"number integer", "42", flow.NodeData{ValidationType: flow.ValidationNumber}, true},
		{"number decimal", "3.14", flow.NodeData{ValidationType: flow.ValidationNumber}, true},
		{"number negative", "-7", flow.NodeData{ValidationType: flow.ValidationNumber}, true},
		{"number padded", "  12 ", flow.NodeData{ValidationType: flow.ValidationNumber}, true},
		{"number rejects words", "twelve", flow.NodeData{ValidationType: flow.ValidationNumber}, false},

		{"email valid", "ana@example.com", flow.NodeData{ValidationType: flow.ValidationEmail}, true},
		{"email missing at", "ana.example.com", flow.NodeData{ValidationType: flow.ValidationEmail}, false},
		{"email missing domain dot", "ana@example", flow.NodeData{ValidationType: flow.ValidationEmail}, false},
		{"email with spaces", "a na@example.com", flow.NodeData{ValidationType: flow.ValidationEmail}, false},

		{"regex match", "AB-123", flow.NodeData{ValidationType: flow.ValidationRegex, ValidationRegex: `^[A-Z]{2}-\d+$`}, true},
		{"regex mismatch", "ab123", flow.NodeData{ValidationType: flow.ValidationRegex, ValidationRegex: `^[A-Z]{2}-\d+$`}, false},
		// A broken pattern must not dead-end the conversation.
		{"regex invalid pattern passes", "anything", flow.NodeData{ValidationType: flow.ValidationRegex, ValidationRegex: "(["}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateAnswer(tc.answer, tc.data); got != tc.want {
				t.Errorf("ValidateAnswer(%q, %v) = %v, want %v", tc.answer, tc.data.ValidationType, got, tc.want)
			}
		})
	}
}

func TestRejectionMessage(t *testing.T) {
	custom := flow.NodeData{ErrorMessage: "Numbers only please"}
	if got := rejectionMessage(custom); got != "Numbers only please" {
		t.Errorf("got %q, want the configured message", got)
	}

	number := flow.NodeData{ValidationType: flow.ValidationNumber}
	if got := rejectionMessage(number); got == "" {
		t.Error("default number rejection should not be empty")
	}
}
