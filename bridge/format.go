// Package bridge wires chat messages to tmux-hosted agent workers and
// carries their replies back. It owns admin gating, worker registry,
// routing, delivery into panes, and the response pipeline.
package bridge

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MessageLimit is the largest message body the chat platform accepts.
const MessageLimit = 4096

// MediaTag is an upload directive a worker embeds in its reply text, e.g.
// [[image:/tmp/shot.png|the login screen]].
type MediaTag struct {
	Kind    string // "image" or "file"
	Path    string
	Caption string
}

// ExtractMediaTags pulls media directives out of a reply and returns the
// text with the tags removed. Tags inside fenced blocks or inline code are
// left alone, and a backslash escape renders the literal brackets:
// \[[image:...]] stays text, minus the backslash.
func ExtractMediaTags(text string) (string, []MediaTag) {
	var tags []MediaTag
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	inFence := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		cleaned, lineTags := extractTagsFromLine(line)
		tags = append(tags, lineTags...)
		// A line that held only tags disappears entirely.
		if len(lineTags) > 0 && strings.TrimSpace(cleaned) == "" && strings.TrimSpace(line) != "" {
			continue
		}
		out = append(out, cleaned)
	}
	return strings.Join(out, "\n"), tags
}

func extractTagsFromLine(line string) (string, []MediaTag) {
	var tags []MediaTag
	var b strings.Builder
	inCode := false

	for i := 0; i < len(line); {
		c := line[i]
		if c == '`' {
			inCode = !inCode
			b.WriteByte(c)
			i++
			continue
		}
		if !inCode && c == '\\' && strings.HasPrefix(line[i+1:], "[[") {
			b.WriteString("[[")
			i += 3
			continue
		}
		if !inCode && strings.HasPrefix(line[i:], "[[") {
			if tag, length, ok := parseMediaTag(line[i:]); ok {
				tags = append(tags, tag)
				i += length
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), tags
}

func parseMediaTag(s string) (MediaTag, int, bool) {
	var kind, prefix string
	switch {
	case strings.HasPrefix(s, "[[image:"):
		kind, prefix = "image", "[[image:"
	case strings.HasPrefix(s, "[[file:"):
		kind, prefix = "file", "[[file:"
	default:
		return MediaTag{}, 0, false
	}
	end := strings.Index(s[len(prefix):], "]]")
	if end < 0 {
		return MediaTag{}, 0, false
	}
	body := s[len(prefix) : len(prefix)+end]
	path, caption := body, ""
	if idx := strings.IndexByte(body, '|'); idx >= 0 {
		path, caption = body[:idx], strings.TrimSpace(body[idx+1:])
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return MediaTag{}, 0, false
	}
	return MediaTag{Kind: kind, Path: path, Caption: caption}, len(prefix) + end + 2, true
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeHTML escapes the three characters the chat platform's HTML parser
// cares about.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

var (
	boldRe   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe = regexp.MustCompile(`\*([^*\n]+)\*`)
	langRe   = regexp.MustCompile(`[^a-zA-Z0-9_+\-]`)
)

type fencedBlock struct {
	lang    string
	content string
}

func fencePlaceholder(i int) string {
	return fmt.Sprintf("\x00FENCE%d\x00", i)
}

func inlinePlaceholder(i int) string {
	return fmt.Sprintf("\x00CODE%d\x00", i)
}

var inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")

// FormatHTML converts the markdown subset workers emit into platform HTML.
// Code is tokenized out first so emphasis markers and angle brackets inside
// it survive untouched, then restored escaped.
func FormatHTML(text string) string {
	// Pull out fenced blocks line-wise.
	var fences []fencedBlock
	var sb strings.Builder
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "```") {
			lang := sanitizeLang(strings.TrimPrefix(trimmed, "```"))
			var content []string
			i++
			for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
				content = append(content, lines[i])
				i++
			}
			if i < len(lines) {
				i++ // closing fence
			}
			fences = append(fences, fencedBlock{lang: lang, content: strings.Join(content, "\n")})
			sb.WriteString(fencePlaceholder(len(fences) - 1))
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(lines[i])
		sb.WriteString("\n")
		i++
	}
	body := strings.TrimSuffix(sb.String(), "\n")

	// Inline code spans next.
	var inlines []string
	body = inlineCodeRe.ReplaceAllStringFunc(body, func(m string) string {
		inlines = append(inlines, m[1:len(m)-1])
		return inlinePlaceholder(len(inlines) - 1)
	})

	// Everything still in the body is prose: escape, then emphasis.
	body = EscapeHTML(body)
	body = boldRe.ReplaceAllString(body, "<b>$1</b>")
	body = italicRe.ReplaceAllString(body, "<i>$1</i>")

	for i, code := range inlines {
		body = strings.Replace(body, inlinePlaceholder(i), "<code>"+EscapeHTML(code)+"</code>", 1)
	}
	for i, fence := range fences {
		open := "<pre><code>"
		if fence.lang != "" {
			open = `<pre><code class="language-` + fence.lang + `">`
		}
		block := open + EscapeHTML(fence.content) + "</code></pre>"
		body = strings.Replace(body, fencePlaceholder(i), block, 1)
	}
	return body
}

func sanitizeLang(lang string) string {
	return langRe.ReplaceAllString(strings.TrimSpace(lang), "")
}

// FrameWorker prefixes a formatted response with the worker identity line
// every chat message carries.
func FrameWorker(worker, html string) string {
	return "<b>" + EscapeHTML(worker) + ":</b>\n" + html
}

// ParseWorkerFrame recovers the worker name from the first line of a
// framed message. The platform hands replied-to text back as plain text,
// so both the rendered "name:" and the raw "<b>name:</b>" forms match.
func ParseWorkerFrame(text string) (string, bool) {
	first := text
	if idx := strings.IndexByte(first, '\n'); idx >= 0 {
		first = first[:idx]
	}
	first = strings.TrimSpace(first)
	first = strings.TrimPrefix(first, "<b>")
	first = strings.TrimSuffix(first, "</b>")
	if !strings.HasSuffix(first, ":") {
		return "", false
	}
	name := strings.TrimSuffix(first, ":")
	if name == "" || !isWorkerName(name) {
		return "", false
	}
	return name, true
}

// isWorkerName reports whether s is a syntactically valid worker name.
func isWorkerName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

type htmlSegment struct {
	pre     bool
	text    string // full segment text, wrapper included for pre blocks
	prefix  string
	content string
}

const preSuffix = "</code></pre>"

// segmentHTML splits formatted output into pre blocks and the prose
// between them. Pre blocks are the units the splitter must not cut
// through.
func segmentHTML(html string) []htmlSegment {
	var segs []htmlSegment
	rest := html
	for {
		idx := strings.Index(rest, "<pre><code")
		if idx < 0 {
			if rest != "" {
				segs = append(segs, htmlSegment{text: rest})
			}
			return segs
		}
		if idx > 0 {
			segs = append(segs, htmlSegment{text: rest[:idx]})
		}
		rel := strings.Index(rest[idx:], preSuffix)
		if rel < 0 {
			segs = append(segs, htmlSegment{text: rest[idx:]})
			return segs
		}
		block := rest[idx : idx+rel+len(preSuffix)]
		ci := strings.Index(block, "<code")
		gt := strings.IndexByte(block[ci:], '>')
		prefixEnd := ci + gt + 1
		segs = append(segs, htmlSegment{
			pre:     true,
			text:    block,
			prefix:  block[:prefixEnd],
			content: block[prefixEnd : len(block)-len(preSuffix)],
		})
		rest = rest[idx+len(block):]
	}
}

// SplitMessage chops formatted output into chunks the platform accepts,
// preferring paragraph breaks, then line breaks, then word breaks, and
// hard-cutting only as a last resort. A pre block never straddles a chunk
// boundary; one longer than the limit is cut and re-fenced piecewise.
func SplitMessage(html string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	if len(html) <= limit {
		if strings.TrimSpace(html) == "" {
			return nil
		}
		return []string{html}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, seg := range segmentHTML(html) {
		if seg.pre {
			if len(seg.text) > limit {
				flush()
				chunks = append(chunks, splitPre(seg, limit)...)
				continue
			}
			if cur.Len() > 0 && cur.Len()+len(seg.text) > limit {
				flush()
			}
			cur.WriteString(seg.text)
			continue
		}

		text := seg.text
		for len(text) > 0 {
			space := limit - cur.Len()
			if len(text) <= space {
				cur.WriteString(text)
				break
			}
			if space < 64 && cur.Len() > 0 {
				// Not worth starting a fragment this small.
				flush()
				continue
			}
			cut := findCut(text, space)
			if cut <= 0 {
				if cur.Len() > 0 {
					flush()
					continue
				}
				cut = hardCut(text, limit)
			}
			cur.WriteString(text[:cut])
			flush()
			text = strings.TrimLeft(text[cut:], " \n")
		}
	}
	flush()
	return chunks
}

// findCut picks the best break position within the window, or 0 when no
// natural break exists.
func findCut(text string, window int) int {
	if window > len(text) {
		window = len(text)
	}
	head := text[:window]
	if idx := strings.LastIndex(head, "\n\n"); idx > 0 {
		return idx
	}
	if idx := strings.LastIndexByte(head, '\n'); idx > 0 {
		return idx
	}
	if idx := strings.LastIndexAny(head, " \t"); idx > 0 {
		return idx
	}
	return 0
}

// hardCut returns a byte offset close to limit that does not land inside a
// tag, an entity, or a multi-byte rune.
func hardCut(text string, limit int) int {
	if limit >= len(text) {
		return len(text)
	}
	cut := limit
	if open := strings.LastIndexByte(text[:cut], '<'); open > 0 && strings.IndexByte(text[open:cut], '>') < 0 {
		cut = open
	}
	if amp := strings.LastIndexByte(text[:cut], '&'); amp > 0 && cut-amp < 8 && strings.IndexByte(text[amp:cut], ';') < 0 {
		cut = amp
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		cut = limit
	}
	return cut
}

// splitPre cuts an oversized pre block into chunk-sized pieces, each
// re-wrapped with the original fence markup.
func splitPre(seg htmlSegment, limit int) []string {
	avail := limit - len(seg.prefix) - len(preSuffix)
	if avail < 1 {
		avail = 1
	}
	var pieces []string
	content := seg.content
	for len(content) > 0 {
		if len(content) <= avail {
			pieces = append(pieces, seg.prefix+content+preSuffix)
			break
		}
		cut := 0
		if idx := strings.LastIndexByte(content[:avail], '\n'); idx > 0 {
			cut = idx
		} else {
			cut = hardCut(content, avail)
		}
		pieces = append(pieces, seg.prefix+content[:cut]+preSuffix)
		content = strings.TrimLeft(content[cut:], "\n")
	}
	return pieces
}
