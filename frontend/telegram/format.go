package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength keeps replies under Telegram's 4096 character limit.
const MaxMessageLength = 4000

var (
	toolBlockRe  = regexp.MustCompile("(?s)```tool\\s*\\n.+?\\n```")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\\n]+)`")
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`\*([^*\n]+?)\*`)
)

// FormatHTML converts the model's markdown into Telegram HTML. Tool call
// blocks of the text protocol are dropped.
func FormatHTML(text string) string {
	text = toolBlockRe.ReplaceAllString(text, "")

	var saved []string
	stash := func(s string) string {
		saved = append(saved, s)
		return fmt.Sprintf("\x00%d\x00", len(saved)-1)
	}

	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := codeBlockRe.FindStringSubmatch(m)
		class := ""
		if sub[1] != "" {
			class = fmt.Sprintf(` class="language-%s"`, sub[1])
		}
		return stash(fmt.Sprintf("<pre><code%s>%s</code></pre>", class, html.EscapeString(sub[2])))
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		return stash("<code>" + html.EscapeString(m[1:len(m)-1]) + "</code>")
	})

	text = html.EscapeString(text)
	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicRe.ReplaceAllString(text, "<i>$1</i>")

	for i, s := range saved {
		text = strings.Replace(text, fmt.Sprintf("\x00%d\x00", i), s, 1)
	}
	return strings.TrimSpace(text)
}

// SplitMessage breaks text into parts of at most max characters, on line
// boundaries where possible.
func SplitMessage(text string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	currentLen := 0
	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if currentLen > 0 && currentLen+1+lineLen <= max {
			current.WriteByte('\n')
			current.WriteString(line)
			currentLen += 1 + lineLen
			continue
		}
		if currentLen > 0 {
			parts = append(parts, current.String())
			current.Reset()
			currentLen = 0
		}
		for lineLen > max {
			runes := []rune(line)
			parts = append(parts, string(runes[:max]))
			line = string(runes[max:])
			lineLen -= max
		}
		current.WriteString(line)
		currentLen = lineLen
	}
	if currentLen > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// truncate shortens s to max characters.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "\n… (truncated)"
}
