package agentloop

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ollacode/ollacode/unifiedllm"
)

// DefaultLoopWindow is the number of recent tool calls inspected for a
// repeating pattern.
const DefaultLoopWindow = 6

// callSignature identifies a tool call by name and arguments. Arguments are
// canonicalised first so key order and spacing do not hide a repeat.
func callSignature(c unifiedllm.ToolCall) string {
	sum := sha256.Sum256(canonicalJSON(c.Arguments))
	return c.Name + ":" + hex.EncodeToString(sum[:8])
}

func canonicalJSON(raw json.RawMessage) []byte {
	var v interface{}
	if json.Unmarshal(raw, &v) == nil {
		// Maps marshal with sorted keys.
		if out, err := json.Marshal(v); err == nil {
			return out
		}
	}
	return bytes.TrimSpace(raw)
}

// recentSignatures returns the signatures of the last n tool calls in
// history, oldest first.
func recentSignatures(history []Turn, n int) []string {
	var sigs []string
	for _, t := range history {
		if t.Kind != TurnAssistant || t.Assistant == nil {
			continue
		}
		for _, c := range t.Assistant.ToolCalls {
			sigs = append(sigs, callSignature(c))
		}
	}
	if len(sigs) > n {
		sigs = sigs[len(sigs)-n:]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize tool calls are one call,
// or a cycle of two or three calls, repeated.
func DetectLoop(history []Turn, windowSize int) bool {
	if windowSize <= 0 {
		return false
	}
	sigs := recentSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for period := 1; period <= 3 && period < windowSize; period++ {
		if windowSize%period == 0 && periodic(sigs, period) {
			return true
		}
	}
	return false
}

// periodic reports whether sigs[i] == sigs[i-period] throughout.
func periodic(sigs []string, period int) bool {
	for i := period; i < len(sigs); i++ {
		if sigs[i] != sigs[i-period] {
			return false
		}
	}
	return true
}

func loopWarning(window int) string {
	return fmt.Sprintf("Loop detected: your last %d tool calls repeat the same pattern and the results will not change. "+
		"Stop repeating them. Try a different approach or answer with what you have.", window)
}
