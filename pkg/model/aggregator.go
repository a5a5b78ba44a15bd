// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"iter"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/loomware/agentkit/pkg/tool"
)

// StreamingAggregator accumulates partial streaming responses from a
// provider and produces both the partial deltas a caller streams to its
// consumer (Partial=true) and the final aggregated Response committed to
// conversation history (Partial=false). Every pkg/model provider (openai,
// anthropic, gemini, ollama) builds one per GenerateContent(stream=true)
// call and drives it from its own wire-format event loop.
type StreamingAggregator struct {
	text         string
	thinkingText string
	response     *Response
	role         a2a.MessageRole
	toolCalls    []tool.ToolCall
	usage        *Usage
	finishReason FinishReason

	thinkingID        string
	thinkingSignature string
}

// NewStreamingAggregator creates a new streaming aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{
		role: a2a.MessageRoleAgent,
	}
}

// ProcessTextDelta accumulates a text delta chunk and yields a partial
// Response carrying just that delta, for real-time display.
func (s *StreamingAggregator) ProcessTextDelta(text string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if text == "" {
			return
		}

		s.text += text

		resp := &Response{
			Content: &Content{
				Parts: []a2a.Part{a2a.TextPart{Text: text}},
				Role:  s.role,
			},
			Partial: true,
		}
		s.response = resp

		yield(resp, nil)
	}
}

// ProcessThinkingDelta accumulates a thinking delta chunk and yields a
// partial Response carrying the thinking metadata.
func (s *StreamingAggregator) ProcessThinkingDelta(thinking string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if thinking == "" {
			return
		}

		if s.thinkingID == "" {
			s.thinkingID = "thinking_" + uuid.NewString()[:8]
		}

		s.thinkingText += thinking

		resp := &Response{
			Content: &Content{
				Parts: []a2a.Part{},
				Role:  s.role,
			},
			Partial: true,
			Thinking: &ThinkingBlock{
				ID:      s.thinkingID,
				Content: thinking,
			},
		}
		s.response = resp

		yield(resp, nil)
	}
}

// ProcessThinkingComplete records a thinking block delivered whole rather
// than as deltas, along with its verification signature.
func (s *StreamingAggregator) ProcessThinkingComplete(content, signature string) {
	if s.thinkingID == "" {
		s.thinkingID = "thinking_" + uuid.NewString()[:8]
	}
	s.thinkingText = content
	s.thinkingSignature = signature
}

// ThinkingText returns the accumulated thinking text.
func (s *StreamingAggregator) ThinkingText() string {
	return s.thinkingText
}

// ProcessToolCall accumulates one complete tool call and yields a partial
// Response carrying it, since tool calls arrive whole rather than as
// deltas even in streaming mode.
func (s *StreamingAggregator) ProcessToolCall(tc tool.ToolCall) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		s.toolCalls = append(s.toolCalls, tc)

		resp := &Response{
			Content: &Content{
				Parts: []a2a.Part{
					a2a.DataPart{
						Data: map[string]any{
							"type":      "tool_use",
							"id":        tc.ID,
							"name":      tc.Name,
							"arguments": tc.Args,
						},
					},
				},
				Role: s.role,
			},
			Partial:   true,
			ToolCalls: []tool.ToolCall{tc},
		}
		s.response = resp

		yield(resp, nil)
	}
}

// SetUsage records usage statistics, typically delivered on the stream's
// terminal event.
func (s *StreamingAggregator) SetUsage(usage *Usage) {
	s.usage = usage
}

// SetFinishReason records why the model stopped generating.
func (s *StreamingAggregator) SetFinishReason(reason FinishReason) {
	s.finishReason = reason
}

// Close produces the final aggregated Response (Partial=false) from
// everything accumulated since the aggregator was created or last closed,
// and resets its internal state. Returns nil if nothing was accumulated.
func (s *StreamingAggregator) Close() *Response {
	return s.createAggregatedResponse()
}

func (s *StreamingAggregator) createAggregatedResponse() *Response {
	if s.text == "" && s.thinkingText == "" && len(s.toolCalls) == 0 {
		return nil
	}

	var parts []a2a.Part
	if s.text != "" {
		parts = append(parts, a2a.TextPart{Text: s.text})
	}

	resp := &Response{
		Content: &Content{
			Parts: parts,
			Role:  s.role,
		},
		Partial:      false,
		TurnComplete: true,
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: s.finishReason,
	}

	if s.thinkingText != "" {
		resp.Thinking = &ThinkingBlock{
			ID:        s.thinkingID,
			Content:   s.thinkingText,
			Signature: s.thinkingSignature,
		}
	}

	s.clear()

	return resp
}

func (s *StreamingAggregator) clear() {
	s.text = ""
	s.thinkingText = ""
	s.thinkingID = ""
	s.thinkingSignature = ""
	s.response = nil
	s.toolCalls = nil
	s.usage = nil
	s.finishReason = ""
}
