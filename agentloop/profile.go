package agentloop

import (
	"fmt"

	"github.com/ollacode/ollacode/unifiedllm"
)

// ModelProfile describes how a session talks to its model: which adapter
// handles the requests, how tools are declared and how much context the
// model accepts.
type ModelProfile struct {
	// Provider is the unifiedllm provider name requests are routed to.
	Provider string
	// Model is the Ollama model tag, e.g. "qwen3-coder:30b".
	Model string
	// ToolProtocol is unifiedllm.ToolProtocolNative or ToolProtocolText.
	ToolProtocol      string
	ContextWindow     int
	SupportsReasoning bool
}

// NewModelProfile builds a profile for model. An empty protocol is chosen
// from the model catalog. contextWindow is the window requested from the
// server; zero means the catalog value capped at DefaultContextWindow.
func NewModelProfile(model, protocol string, contextWindow int) (ModelProfile, error) {
	if model == "" {
		return ModelProfile{}, fmt.Errorf("model name is required")
	}
	if protocol == "" {
		protocol = unifiedllm.ToolProtocolFor(model)
	}

	p := ModelProfile{Model: model, ToolProtocol: protocol, ContextWindow: contextWindow}
	switch protocol {
	case unifiedllm.ToolProtocolNative:
		p.Provider = unifiedllm.OllamaProviderName
	case unifiedllm.ToolProtocolText:
		p.Provider = unifiedllm.GollmProviderName
	default:
		return ModelProfile{}, fmt.Errorf("unknown tool protocol %q (want %q or %q)",
			protocol, unifiedllm.ToolProtocolNative, unifiedllm.ToolProtocolText)
	}

	if p.ContextWindow <= 0 {
		p.ContextWindow = min(unifiedllm.ContextWindowFor(model, DefaultContextWindow), DefaultContextWindow)
	}
	if info := unifiedllm.GetModelInfo(model); info != nil {
		p.SupportsReasoning = info.SupportsReasoning
	}
	return p, nil
}

// DisplayName returns the catalog name of the model family, or the model tag.
func (p ModelProfile) DisplayName() string {
	if info := unifiedllm.GetModelInfo(p.Model); info != nil {
		return fmt.Sprintf("%s (%s)", info.DisplayName, p.Model)
	}
	return p.Model
}
