package normalize

import (
	"encoding/base64"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jessdabre/gmail-to-sheets/model"
)

const (
	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
)

// tagPattern matches from a '<' to the nearest following '>' with no '<' in between.
var tagPattern = regexp.MustCompile(`<[^<]+?>`)

// ExtractBody picks the message text: the first text/plain leaf of a
// multipart message, else its first text/html leaf converted to text, else
// the single body of a non-multipart message.
func ExtractBody(p *model.Payload) string {
	if p == nil {
		return ""
	}

	if !p.Multipart() {
		return strings.TrimSpace(Decode(p.Body.Data))
	}

	leaves := flatten(nil, p.Parts)
	for _, leaf := range leaves {
		if mediaType(leaf.MimeType) == mimeTextPlain {
			return strings.TrimSpace(Decode(leaf.Body.Data))
		}
	}
	for _, leaf := range leaves {
		if mediaType(leaf.MimeType) == mimeTextHTML {
			return HTMLToText(Decode(leaf.Body.Data))
		}
	}
	return ""
}

// flatten collects leaves depth-first, in order.
func flatten(dst []model.Part, parts []model.Part) []model.Part {
	for _, part := range parts {
		if len(part.Parts) > 0 {
			dst = flatten(dst, part.Parts)
			continue
		}
		dst = append(dst, part)
	}
	return dst
}

func mediaType(mimeType string) string {
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Decode turns base64url data into UTF-8 text. Padding is optional.
// Undecodable or non-UTF-8 payloads yield "".
func Decode(data string) string {
	if data == "" {
		return ""
	}

	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return ""
		}
	}

	if !utf8.Valid(decoded) {
		return ""
	}
	return string(decoded)
}

// HTMLToText strips tags, decodes entities and collapses whitespace.
// Script and style content is kept as text.
func HTMLToText(s string) string {
	text := tagPattern.ReplaceAllString(s, "")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
