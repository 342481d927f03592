package model

import (
	"bytes"
	"encoding/json"
)

// PromptContent is the decoded form of Question.Prompt used by hosts that
// render prompts. The flow itself never inspects it.
type PromptContent struct {
	Text    string   `json:"text,omitempty"`
	Images  []string `json:"images,omitempty"`
	Bullets []string `json:"bullets,omitempty"`
}

// DecodePrompt parses the prompt. An absent prompt decodes to the zero
// value; anything other than a JSON object is an error.
func (q Question) DecodePrompt() (PromptContent, error) {
	var pc PromptContent
	raw := bytes.TrimSpace(q.Prompt)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return pc, nil
	}
	err := json.Unmarshal(raw, &pc)
	return pc, err
}
