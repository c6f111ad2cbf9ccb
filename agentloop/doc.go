// Package agentloop implements the conversation engine of ollacode.
//
// It pairs a locally served model with seven workspace tools. The loop
// streams a model reply, runs the requested tool calls one by one in the
// order the model emitted them, feeds the results back and repeats until
// the model answers without tool calls or the round limit is reached.
//
// The agent loop uses the unifiedllm package's Client.Stream method
// directly, implementing its own turn loop to interleave tool execution
// with approval, truncation, compaction, events and loop detection.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Session: the central orchestrator holding conversation state,
//     dispatching tool calls, emitting events and enforcing limits.
//   - ModelProfile: which adapter, model tag and context window to use.
//   - ExecutionEnvironment: the confined workspace tools run in
//     (*workspace.Guard).
//   - ToolRegistry: typed tool definitions with strict argument decoding.
//   - ApprovalGate: asks the front end before any file change or command.
//   - EventEmitter: synchronous event delivery to front ends.
//
// # Quick Start
//
//	guard, _ := workspace.New("/path/to/project")
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider(unifiedllm.OllamaProviderName, unifiedllm.NewOllamaAdapter("")),
//	)
//	profile, _ := agentloop.NewModelProfile("qwen3-coder:30b", "", 0)
//	session := agentloop.NewSession(client, guard, profile, agentloop.WithAutoApprove(true))
//	defer session.Close()
//
//	session.Subscribe(func(ev agentloop.SessionEvent) {
//	    if ev.Kind == agentloop.EventAssistantTextDelta {
//	        fmt.Print(ev.String("delta"))
//	    }
//	})
//	if err := session.Submit(ctx, "Create a hello.py file"); err != nil {
//	    log.Fatal(err)
//	}
package agentloop
