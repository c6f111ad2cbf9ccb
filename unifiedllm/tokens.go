package unifiedllm

import "unicode"

// EstimateTokens approximates the token count of text without a tokenizer:
// about four ASCII characters per token and one and a half per token for
// CJK scripts. Other runes count like ASCII.
func EstimateTokens(text string) int {
	var ascii, cjk int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			ascii++
		}
	}
	return ascii/4 + int(float64(cjk)/1.5)
}

// EstimateMessageTokens sums EstimateTokens over every textual part of msgs,
// including tool call arguments and tool results.
func EstimateMessageTokens(msgs []Message) int {
	total := 0
	for _, msg := range msgs {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText, ContentThinking:
				total += EstimateTokens(part.Text)
			case ContentToolCall:
				if part.ToolCall != nil {
					total += EstimateTokens(part.ToolCall.Name) + EstimateTokens(string(part.ToolCall.Arguments))
				}
			case ContentToolResult:
				if part.ToolResult != nil {
					total += EstimateTokens(part.ToolResult.Content)
				}
			}
		}
	}
	return total
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r)
}
