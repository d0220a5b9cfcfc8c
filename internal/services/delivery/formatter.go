// -----------------------------------------------------------------------
// Message formatter - Telegram HTML rendering with a hard length bound
// -----------------------------------------------------------------------

package delivery

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/filingwatch/internal/models"
)

// TruncationMarker is appended when a message had to be cut
const TruncationMarker = "\n\n…(내용이 잘려 표시되었습니다)"

// TelegramMaxLength is the Bot API limit for one text message, in characters
const TelegramMaxLength = 4096

var (
	tagPattern = regexp.MustCompile(`<(/?)([a-zA-Z]+)[^>]*>`)

	typeEmoji = map[models.FilingType]string{
		models.FilingTypePeriodicAnnual:    "📋",
		models.FilingTypePeriodicQuarterly: "📊",
		models.FilingTypeEvent:             "🔔",
	}
)

// Formatter renders analyses as Telegram HTML messages no longer than limit characters
type Formatter struct {
	limit int
}

// NewFormatter creates a formatter. A limit outside (0, 4096] uses the Telegram maximum.
func NewFormatter(limit int) *Formatter {
	if limit <= 0 || limit > TelegramMaxLength {
		limit = TelegramMaxLength
	}
	return &Formatter{limit: limit}
}

// Limit returns the message length bound
func (f *Formatter) Limit() int {
	return f.limit
}

// Render formats the header, the five analysis fields and the source link.
// All provider text is escaped; the result may exceed the limit.
func (f *Formatter) Render(job *models.Job, analysis *models.Analysis) string {
	if analysis == nil {
		analysis = &models.Analysis{}
	}

	emoji := typeEmoji[job.FilingType]
	if emoji == "" {
		emoji = "🔔"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s 신규 공시 (%s)</b> %s\n", emoji, esc(job.Identifier), esc(job.FilingType.FormName()), emoji)
	if job.FilingDate != "" {
		fmt.Fprintf(&b, "📅 %s\n", esc(job.FilingDate))
	}
	b.WriteString("\n")

	b.WriteString("<b>✨ 3줄 요약</b>\n")
	fmt.Fprintf(&b, "<i>%s</i>\n\n", esc(fallback(analysis.ExecutiveSummary, "요약 없음")))

	b.WriteString("<b>📊 주요 공시 내용</b>\n")
	if len(analysis.ObjectiveFacts) == 0 {
		b.WriteString("  - N/A\n")
	}
	for _, fact := range analysis.ObjectiveFacts {
		fmt.Fprintf(&b, "  • %s\n", esc(fact))
	}
	b.WriteString("\n")

	b.WriteString("<b>💡 AI 인사이트</b>\n")
	fmt.Fprintf(&b, "  <b>[👍]</b> %s\n", esc(fallback(analysis.PositiveSignals, "N/A")))
	fmt.Fprintf(&b, "  <b>[👎]</b> %s\n", esc(fallback(analysis.PotentialRisks, "N/A")))
	fmt.Fprintf(&b, "  <b>[종합]</b> %s\n", esc(fallback(analysis.OverallOpinion, "N/A")))

	if job.SourceLocation != "" {
		fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">공시 원문 보기</a>", esc(job.SourceLocation))
	}

	return b.String()
}

// Fits reports whether text is within the limit
func (f *Formatter) Fits(text string) bool {
	return RuneLength(text) <= f.limit
}

// Truncate cuts text so that, with the marker appended, it fits the limit.
// The cut never splits a tag or an entity, and still-open tags are closed before the marker.
func (f *Formatter) Truncate(text string) string {
	if f.Fits(text) {
		return text
	}

	marker := []rune(TruncationMarker)
	if f.limit <= len(marker) {
		return string(marker[:f.limit])
	}

	runes := []rune(text)
	budget := f.limit - len(marker)
	for budget >= 0 {
		head := repairCut(string(runes[:budget]))
		closers := closingTags(head)
		out := head + closers + TruncationMarker
		overflow := RuneLength(out) - f.limit
		if overflow <= 0 {
			return out
		}
		budget -= overflow
	}
	return TruncationMarker
}

// RuneLength counts Unicode code points of the HTML source, markup included.
// Telegram counts the parsed text in UTF-16 units, where an astral emoji is 2; the markup this
// count includes outweighs the few emoji a message carries, so the source count is kept as the bound.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

// repairCut drops a trailing partial tag or entity left by a raw cut
func repairCut(s string) string {
	if lt := strings.LastIndex(s, "<"); lt > strings.LastIndex(s, ">") {
		s = s[:lt]
	}
	if amp := strings.LastIndex(s, "&"); amp >= 0 && !strings.Contains(s[amp:], ";") {
		s = s[:amp]
	}
	return s
}

// closingTags returns the closing tags for every tag still open at the end of s
func closingTags(s string) string {
	var open []string
	for _, m := range tagPattern.FindAllStringSubmatch(s, -1) {
		name := strings.ToLower(m[2])
		if m[1] == "" {
			open = append(open, name)
			continue
		}
		for i := len(open) - 1; i >= 0; i-- {
			if open[i] == name {
				open = append(open[:i], open[i+1:]...)
				break
			}
		}
	}

	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i] + ">")
	}
	return b.String()
}

func esc(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

func fallback(s, alt string) string {
	if strings.TrimSpace(s) == "" {
		return alt
	}
	return s
}
