package contextmgr

import (
	"encoding/json"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
)

// messageDTO is the wire shape used to round-trip a2a.Message through JSON
// for session persistence. a2a.Part is an interface (TextPart or DataPart in
// every part this runtime produces, per message.go's part taxonomy), so it
// can't be unmarshaled generically — each part is tagged with its kind here.
type messageDTO struct {
	Role  a2a.MessageRole `json:"role"`
	Parts []partDTO       `json:"parts"`
}

type partDTO struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// MarshalMessages serializes a committed conversation history to JSON bytes,
// for inclusion in a session snapshot's "conversation" field.
func MarshalMessages(msgs []*a2a.Message) ([]byte, error) {
	dtos := make([]messageDTO, len(msgs))
	for i, m := range msgs {
		dto := messageDTO{Role: m.Role, Parts: make([]partDTO, len(m.Parts))}
		for j, p := range m.Parts {
			switch v := p.(type) {
			case a2a.TextPart:
				dto.Parts[j] = partDTO{Kind: "text", Text: v.Text}
			case a2a.DataPart:
				dto.Parts[j] = partDTO{Kind: "data", Data: v.Data}
			default:
				return nil, fmt.Errorf("contextmgr: unsupported part type %T in message %d", p, i)
			}
		}
		dtos[i] = dto
	}
	return json.Marshal(dtos)
}

// UnmarshalMessages restores a committed conversation history previously
// produced by MarshalMessages.
func UnmarshalMessages(data []byte) ([]*a2a.Message, error) {
	var dtos []messageDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("contextmgr: unmarshal messages: %w", err)
	}
	msgs := make([]*a2a.Message, len(dtos))
	for i, dto := range dtos {
		parts := make([]a2a.Part, len(dto.Parts))
		for j, p := range dto.Parts {
			switch p.Kind {
			case "text":
				parts[j] = a2a.TextPart{Text: p.Text}
			case "data":
				parts[j] = a2a.DataPart{Data: p.Data}
			default:
				return nil, fmt.Errorf("contextmgr: unknown part kind %q", p.Kind)
			}
		}
		msgs[i] = a2a.NewMessage(dto.Role, parts...)
	}
	return msgs, nil
}
