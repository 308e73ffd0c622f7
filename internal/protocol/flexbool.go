package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FlexBool decodes from a JSON boolean or from the strings "true" and "false".
// Some clients send typing state as a string.
type FlexBool bool

func (b FlexBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = FlexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("isTyping: expected bool, got %s", string(data))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		*b = true
	case "false":
		*b = false
	default:
		return fmt.Errorf("isTyping: expected bool, got %q", s)
	}
	return nil
}
