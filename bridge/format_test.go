package bridge

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMediaTags(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantText string
		wantTags []MediaTag
	}{
		{
			name:     "image with caption",
			in:       "Here you go\n[[image:/tmp/shot.png|login screen]]",
			wantText: "Here you go",
			wantTags: []MediaTag{{Kind: "image", Path: "/tmp/shot.png", Caption: "login screen"}},
		},
		{
			name:     "file without caption",
			in:       "[[file:/tmp/report.pdf]]\ndone",
			wantText: "done",
			wantTags: []MediaTag{{Kind: "file", Path: "/tmp/report.pdf"}},
		},
		{
			name:     "inline tag keeps surrounding text",
			in:       "see [[image:/a.png]] above",
			wantText: "see  above",
			wantTags: []MediaTag{{Kind: "image", Path: "/a.png"}},
		},
		{
			name:     "escaped tag stays literal without backslash",
			in:       `write \[[image:/a.png]] to attach`,
			wantText: "write [[image:/a.png]] to attach",
		},
		{
			name:     "tag inside fence untouched",
			in:       "```\n[[image:/a.png]]\n```",
			wantText: "```\n[[image:/a.png]]\n```",
		},
		{
			name:     "tag inside inline code untouched",
			in:       "use `[[image:/a.png]]` syntax",
			wantText: "use `[[image:/a.png]]` syntax",
		},
		{
			name:     "unterminated tag stays literal",
			in:       "[[image:/a.png",
			wantText: "[[image:/a.png",
		},
		{
			name:     "empty path stays literal",
			in:       "[[image:]]",
			wantText: "[[image:]]",
		},
		{
			name:     "unknown kind stays literal",
			in:       "[[video:/a.mp4]]",
			wantText: "[[video:/a.mp4]]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, tags := ExtractMediaTags(tt.in)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantTags, tags)
		})
	}
}

func TestExtractMediaTagsMultiple(t *testing.T) {
	in := "first\n[[image:/a.png|one]]\nmiddle\n[[file:/b.txt]]\nlast"
	text, tags := ExtractMediaTags(in)
	assert.Equal(t, "first\nmiddle\nlast", text)
	require.Len(t, tags, 2)
	assert.Equal(t, "image", tags[0].Kind)
	assert.Equal(t, "file", tags[1].Kind)
}

func TestFormatHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "escapes angle brackets and ampersand",
			in:   "a < b && c > d",
			want: "a &lt; b &amp;&amp; c &gt; d",
		},
		{
			name: "bold",
			in:   "this is **important** stuff",
			want: "this is <b>important</b> stuff",
		},
		{
			name: "italic",
			in:   "quite *subtle* indeed",
			want: "quite <i>subtle</i> indeed",
		},
		{
			name: "inline code escapes content",
			in:   "run `make <target>` now",
			want: "run <code>make &lt;target&gt;</code> now",
		},
		{
			name: "inline code shields emphasis markers",
			in:   "glob `**/*.go` matches",
			want: "glob <code>**/*.go</code> matches",
		},
		{
			name: "fence with language",
			in:   "```go\nif a < b {\n}\n```",
			want: "<pre><code class=\"language-go\">if a &lt; b {\n}</code></pre>",
		},
		{
			name: "fence without language",
			in:   "```\nplain\n```",
			want: "<pre><code>plain</code></pre>",
		},
		{
			name: "fence shields markdown",
			in:   "```\n**not bold**\n```",
			want: "<pre><code>**not bold**</code></pre>",
		},
		{
			name: "unclosed fence swallows the rest",
			in:   "```sh\necho hi",
			want: "<pre><code class=\"language-sh\">echo hi</code></pre>",
		},
		{
			name: "prose around fence",
			in:   "before\n```\nx\n```\nafter",
			want: "before\n<pre><code>x</code></pre>\nafter",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatHTML(tt.in))
		})
	}
}

func TestFrameWorker(t *testing.T) {
	assert.Equal(t, "<b>alice:</b>\nhello", FrameWorker("alice", "hello"))
}

func TestParseWorkerFrame(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"alice:\nsome reply", "alice", true},
		{"<b>bob-2:</b>\nreply", "bob-2", true},
		{"alice:", "alice", true},
		{"no frame here", "", false},
		{"Not A Worker:\nx", "", false},
		{":\nempty", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseWorkerFrame(tt.in)
		assert.Equal(t, tt.wantOK, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestIsWorkerName(t *testing.T) {
	assert.True(t, isWorkerName("alice"))
	assert.True(t, isWorkerName("web-2"))
	assert.False(t, isWorkerName("Alice"))
	assert.False(t, isWorkerName("a b"))
	assert.False(t, isWorkerName(""))
	assert.False(t, isWorkerName("a_b"))
}

func TestSplitMessageShort(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitMessage("hello", 100))
	assert.Nil(t, SplitMessage("   ", 100))
}

func TestSplitMessagePrefersParagraphs(t *testing.T) {
	a := strings.Repeat("a", 60)
	b := strings.Repeat("b", 60)
	chunks := SplitMessage(a+"\n\n"+b, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, a, chunks[0])
	assert.Equal(t, b, chunks[1])
}

func TestSplitMessageFallsBackToLines(t *testing.T) {
	a := strings.Repeat("a", 60)
	b := strings.Repeat("b", 60)
	chunks := SplitMessage(a+"\n"+b, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, a, chunks[0])
	assert.Equal(t, b, chunks[1])
}

func TestSplitMessageFallsBackToWords(t *testing.T) {
	words := strings.TrimSpace(strings.Repeat("word ", 50)) // 249 bytes
	chunks := SplitMessage(words, 100)
	require.True(t, len(chunks) >= 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
		assert.False(t, strings.HasPrefix(c, " "))
		assert.False(t, strings.HasSuffix(c, " "))
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	long := strings.Repeat("x", 250)
	chunks := SplitMessage(long, 100)
	require.Len(t, chunks, 3)
	assert.Equal(t, 100, len(chunks[0]))
	assert.Equal(t, 100, len(chunks[1]))
	assert.Equal(t, 50, len(chunks[2]))
}

func TestSplitMessageRoundTripsProse(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "line %03d with several plain words\n", i)
	}
	text := strings.TrimSpace(sb.String())

	chunks := SplitMessage(text, 300)
	require.Greater(t, len(chunks), 1)
	// only seam whitespace is lost at chunk boundaries
	assert.Equal(t, text, strings.Join(chunks, "\n"))
}

func TestSplitMessageKeepsFenceWhole(t *testing.T) {
	prose := strings.Repeat("p", 80)
	fence := "<pre><code>" + strings.Repeat("c", 60) + "</code></pre>"
	chunks := SplitMessage(prose+"\n"+fence, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, prose, chunks[0])
	assert.Equal(t, fence, chunks[1])
}

func TestSplitMessageRefencesOversizedBlock(t *testing.T) {
	lines := strings.TrimSuffix(strings.Repeat(strings.Repeat("c", 40)+"\n", 20), "\n")
	html := `<pre><code class="language-go">` + lines + "</code></pre>"
	chunks := SplitMessage(html, 200)
	require.True(t, len(chunks) >= 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 200)
		assert.True(t, strings.HasPrefix(c, `<pre><code class="language-go">`), "chunk %q", c)
		assert.True(t, strings.HasSuffix(c, "</code></pre>"), "chunk %q", c)
	}
}

func TestSplitMessageHardCutAvoidsTagsAndEntities(t *testing.T) {
	// A tag opening right at the cut point must move the cut before it.
	text := strings.Repeat("x", 96) + "<b>bold</b>"
	cut := hardCut(text, 98)
	assert.Equal(t, 96, cut)

	entity := strings.Repeat("x", 96) + "&amp;"
	cut = hardCut(entity, 99)
	assert.Equal(t, 96, cut)
}

func TestFormatThenSplitKeepsMarkupBalanced(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Paragraph with **bold** and `code < tag>` in it.\n\n")
	}
	sb.WriteString("```go\n")
	for i := 0; i < 30; i++ {
		sb.WriteString("fmt.Println(\"a < b\")\n")
	}
	sb.WriteString("```\n")

	html := FormatHTML(sb.String())
	chunks := SplitMessage(html, 1000)
	require.True(t, len(chunks) >= 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 1000)
		assert.Equal(t, strings.Count(c, "<pre>"), strings.Count(c, "</pre>"), "chunk %q", c)
		assert.Equal(t, strings.Count(c, "<code"), strings.Count(c, "</code>"), "chunk %q", c)
		assert.Equal(t, strings.Count(c, "<b>"), strings.Count(c, "</b>"), "chunk %q", c)
	}
}
