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

package main

import (
	"fmt"
	"os"

	"github.com/loomware/agentkit/pkg/model"
	"github.com/loomware/agentkit/pkg/model/anthropic"
	"github.com/loomware/agentkit/pkg/model/gemini"
	"github.com/loomware/agentkit/pkg/model/ollama"
	"github.com/loomware/agentkit/pkg/model/openai"
)

// defaultModels gives every provider a zero-config model when --model is
// left unset, matching the teacher CLI's zero-config ServeCmd defaults.
var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-20250514",
	"openai":    "gpt-4o",
	"gemini":    "gemini-2.0-flash",
	"ollama":    "llama3.2",
}

// apiKeyEnv names the environment variable each provider's API key is
// read from when --api-key isn't passed explicitly.
var apiKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// buildLLM constructs the model.LLM named by the --provider/--model flags,
// one adapter package per provider the way the teacher's ServeCmd selects
// among pkg/llms' provider clients.
func buildLLM(c *ChatCmd) (model.LLM, error) {
	provider := c.Provider
	if provider == "" {
		provider = "anthropic"
	}

	modelName := c.Model
	if modelName == "" {
		modelName = defaultModels[provider]
	}

	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(apiKeyEnv[provider])
	}

	switch provider {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:      apiKey,
			Model:       modelName,
			MaxTokens:   c.MaxTokens,
			Temperature: &c.Temperature,
			BaseURL:     c.BaseURL,
		})
	case "openai":
		return openai.New(openai.Config{
			APIKey:      apiKey,
			Model:       modelName,
			MaxTokens:   c.MaxTokens,
			Temperature: &c.Temperature,
			BaseURL:     c.BaseURL,
		})
	case "gemini":
		return gemini.New(gemini.Config{
			APIKey:      apiKey,
			Model:       modelName,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
		})
	case "ollama":
		baseURL := c.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.New(ollama.Config{
			BaseURL:     baseURL,
			Model:       modelName,
			Temperature: &c.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic, openai, gemini, or ollama)", provider)
	}
}
