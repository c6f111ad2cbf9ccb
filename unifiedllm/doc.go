// Package unifiedllm is the model client layer. It presents locally served
// Ollama models behind one streaming interface regardless of how the model
// calls tools.
//
// # Architecture
//
// The package is organised in three layers:
//
//   - Provider contract: the ProviderAdapter interface and shared message types
//   - Provider utilities: retry with backoff, error classification, token estimates
//   - Core client: Client with provider routing and middleware
//
// # Adapters
//
// OllamaAdapter speaks the /api/chat endpoint directly and uses Ollama's
// native function calling. It is the default for model families the catalog
// marks as tool capable.
//
// GollmAdapter drives the same server through gollm with the text tool
// protocol: tool definitions are rendered into the system prompt and fenced
// ```tool blocks are parsed out of the reply. Use it for models without
// native tool support.
//
// # Quick Start
//
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("ollama", unifiedllm.NewOllamaAdapter("http://localhost:11434")),
//	)
//
//	events, _ := client.Stream(ctx, unifiedllm.Request{
//	    Model:    "qwen3-coder:30b",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	for ev := range events {
//	    if ev.Type == unifiedllm.TextDelta {
//	        fmt.Print(ev.Delta)
//	    }
//	}
//
// # Model Catalog
//
// A built-in catalog of Ollama model families supplies context windows and
// picks the tool protocol:
//
//	info := unifiedllm.GetModelInfo("qwen3-coder:30b")
//	protocol := unifiedllm.ToolProtocolFor("codellama:13b") // "text"
package unifiedllm
