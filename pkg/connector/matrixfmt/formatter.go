// Copyright 2024-2026 Aiku AI

// Package matrixfmt converts Matrix message content into the plain text plus
// offset/length mention list the realtime send path needs, the mirror image
// of package metafmt's inbound conversion.
package matrixfmt

import (
	"regexp"
	"strings"
	"unicode/utf16"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

var (
	strongRe     = regexp.MustCompile(`</?strong>`)
	emRe         = regexp.MustCompile(`</?em>`)
	delRe        = regexp.MustCompile(`</?del>`)
	codeRe       = regexp.MustCompile(`</?code>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code[^>]*>(.*?)</code></pre>`)
	pillRe       = regexp.MustCompile(`<a href="https://matrix\.to/#/(@[^"]+)">(.*?)</a>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`</?blockquote>`)
	pRe          = regexp.MustCompile(`</p><p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

// Pill is a Matrix user-pill link found in a message body. Offset and Length
// are counted in UTF-16 code units, matching the mention format the
// realtime client embeds in a sent message's extra_metadata.
type Pill struct {
	MXID   id.UserID
	Offset int
	Length int
}

// Parse extracts the plain text body the realtime send path transmits plus
// any user-pill mentions it contains. A plain-text (non-HTML) body is
// passed through unchanged with no pills.
func Parse(content *event.MessageEventContent) (string, []Pill) {
	if content == nil {
		return "", nil
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body, nil
	}

	text := content.FormattedBody
	text = preRe.ReplaceAllString(text, "$1")
	text = strongRe.ReplaceAllString(text, "")
	text = emRe.ReplaceAllString(text, "")
	text = delRe.ReplaceAllString(text, "")
	text = codeRe.ReplaceAllString(text, "")
	text = blockquoteRe.ReplaceAllString(text, "")
	text = pRe.ReplaceAllString(text, "\n\n")
	text = brRe.ReplaceAllString(text, "\n")

	var pills []Pill
	var out strings.Builder
	last := 0
	for _, loc := range pillRe.FindAllStringSubmatchIndex(text, -1) {
		out.WriteString(stripTags(text[last:loc[0]]))
		mxid := text[loc[2]:loc[3]]
		display := stripTags(text[loc[4]:loc[5]])
		offset := utf16Len(out.String())
		out.WriteString(display)
		pills = append(pills, Pill{
			MXID:   id.UserID(mxid),
			Offset: offset,
			Length: utf16Len(display),
		})
		last = loc[1]
	}
	out.WriteString(stripTags(text[last:]))

	return strings.TrimSpace(out.String()), pills
}

func stripTags(s string) string {
	s = linkRe.ReplaceAllString(s, "$2")
	return tagRe.ReplaceAllString(s, "")
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}
