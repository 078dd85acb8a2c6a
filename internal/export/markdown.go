package export

import (
	"regexp"
	"strings"
)

var (
	mdHeading     = regexp.MustCompile(`(?m)^#+\s.*$`)
	mdBoldStars   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	mdBoldUnder   = regexp.MustCompile(`__(.*?)__`)
	mdItalicStar  = regexp.MustCompile(`\*(.*?)\*`)
	mdItalicUnder = regexp.MustCompile(`_(.*?)_`)
	mdStrike      = regexp.MustCompile(`~~(.*?)~~`)
	mdImage       = regexp.MustCompile(`!\[(.*?)\]\(.*?\)`)
	mdLink        = regexp.MustCompile(`\[(.*?)\]\(.*?\)`)
	mdCodeBlock   = regexp.MustCompile("```[\\s\\S]*?```")
	mdInlineCode  = regexp.MustCompile("`([^`]+)`")
	mdBlockquote  = regexp.MustCompile(`(?m)^>\s.*$`)
	mdListMarker  = regexp.MustCompile(`(?m)^(\s*[-*+]|\s*\d+\.)\s+`)
	mdBlankLines  = regexp.MustCompile(`\n{2,}`)
)

// StripMarkdown 去掉常见 markdown 标记，得到纯文本（导出 txt 和朗读用）
func StripMarkdown(text string) string {
	s := mdHeading.ReplaceAllString(text, "")
	s = mdBoldStars.ReplaceAllString(s, "$1")
	s = mdBoldUnder.ReplaceAllString(s, "$1")
	s = mdItalicStar.ReplaceAllString(s, "$1")
	s = mdItalicUnder.ReplaceAllString(s, "$1")
	s = mdStrike.ReplaceAllString(s, "$1")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdCodeBlock.ReplaceAllString(s, "")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdBlockquote.ReplaceAllString(s, "")
	s = mdListMarker.ReplaceAllString(s, "")
	s = mdBlankLines.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
