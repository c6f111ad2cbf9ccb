package unifiedllm

import "strings"

// ModelInfo describes a known Ollama model family.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	SupportsTools     bool     `json:"supports_tools"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	Aliases           []string `json:"aliases,omitempty"`
}

// Tool protocols.
const (
	// ToolProtocolNative passes tool definitions through the backend's
	// function-calling API.
	ToolProtocolNative = "native"
	// ToolProtocolText describes tools in the system prompt and parses
	// fenced tool blocks out of the reply.
	ToolProtocolText = "text"
)

// Models is the built-in catalog. IDs are family names; installed models
// carry a tag ("qwen3-coder:30b") that lookup ignores.
var Models = []ModelInfo{
	{
		ID: "qwen3-coder", Provider: "ollama", DisplayName: "Qwen3 Coder",
		ContextWindow: 262144, SupportsTools: true,
	},
	{
		ID: "qwen2.5-coder", Provider: "ollama", DisplayName: "Qwen2.5 Coder",
		ContextWindow: 32768, SupportsTools: true,
		Aliases: []string{"qwen-coder"},
	},
	{
		ID: "qwen3", Provider: "ollama", DisplayName: "Qwen3",
		ContextWindow: 40960, SupportsTools: true, SupportsReasoning: true,
	},
	{
		ID: "gpt-oss", Provider: "ollama", DisplayName: "gpt-oss",
		ContextWindow: 131072, SupportsTools: true, SupportsReasoning: true,
	},
	{
		ID: "devstral", Provider: "ollama", DisplayName: "Devstral",
		ContextWindow: 131072, SupportsTools: true,
	},
	{
		ID: "llama3.1", Provider: "ollama", DisplayName: "Llama 3.1",
		ContextWindow: 131072, SupportsTools: true,
		Aliases: []string{"llama3"},
	},
	{
		ID: "mistral", Provider: "ollama", DisplayName: "Mistral",
		ContextWindow: 32768, SupportsTools: true,
	},
	{
		ID: "deepseek-coder-v2", Provider: "ollama", DisplayName: "DeepSeek Coder V2",
		ContextWindow: 163840,
	},
	{
		ID: "deepseek-r1", Provider: "ollama", DisplayName: "DeepSeek R1",
		ContextWindow: 131072, SupportsReasoning: true,
	},
	{
		ID: "gemma3", Provider: "ollama", DisplayName: "Gemma 3",
		ContextWindow: 131072,
	},
	{
		ID: "codellama", Provider: "ollama", DisplayName: "Code Llama",
		ContextWindow: 16384,
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
// Tags and registry namespaces are ignored, so "library/qwen3-coder:30b"
// resolves to the qwen3-coder family.
func GetModelInfo(modelID string) *ModelInfo {
	if info := lookupModel(modelID); info != nil {
		return info
	}
	return lookupModel(modelFamily(modelID))
}

func lookupModel(id string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == id {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == id {
				return &Models[i]
			}
		}
	}
	return nil
}

func modelFamily(modelID string) string {
	name := modelID
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}

// ListModels returns all catalog entries, optionally filtered by capability
// ("tools" or "reasoning").
func ListModels(capability string) []ModelInfo {
	var result []ModelInfo
	for _, m := range Models {
		switch capability {
		case "":
		case "tools":
			if !m.SupportsTools {
				continue
			}
		case "reasoning":
			if !m.SupportsReasoning {
				continue
			}
		default:
			continue
		}
		result = append(result, m)
	}
	return result
}

// ToolProtocolFor picks the tool protocol for a model: native function
// calling when the family is known to support it, the text protocol
// otherwise.
func ToolProtocolFor(modelID string) string {
	if info := GetModelInfo(modelID); info != nil && info.SupportsTools {
		return ToolProtocolNative
	}
	return ToolProtocolText
}

// ContextWindowFor returns the catalog context window of a model, or
// fallback when the model is unknown.
func ContextWindowFor(modelID string, fallback int) int {
	if info := GetModelInfo(modelID); info != nil && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return fallback
}
