package dispatcher

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	ptime "github.com/yaa110/go-persian-calendar"

	"iranfinance/internal/storage"
	"iranfinance/pkg/tgui"
)

// MaxDigestRunes is the longest digest Compose produces, markup included.
// It matches Telegram's message text limit.
const MaxDigestRunes = 4096

const lineSep = "\n\n"

// Compose renders the digest for items. Lines are sorted by name and
// duplicate names collapse to one line. now is shown in loc on the Persian
// calendar. A digest that would exceed MaxDigestRunes keeps as many whole
// lines as fit and ends the list with a count of the omitted items, so the
// markup is never cut.
func Compose(now time.Time, loc *time.Location, items []storage.Item) string {
	if loc != nil {
		now = now.In(loc)
	}
	sorted := make([]storage.Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.Name]; dup {
			continue
		}
		seen[it.Name] = struct{}{}
		sorted = append(sorted, it)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	lines := make([]tgui.H, 0, len(sorted))
	for _, it := range sorted {
		lines = append(lines, tgui.Raw("🔹 ")+tgui.B(it.Name+":")+tgui.Esc(" "+FormatValue(it.Value)+" تومان"))
	}

	header := "📢 " + string(tgui.B("آخرین قیمت‌ها (موارد انتخابی شما)")) +
		"\n🗓 تاریخ: " + string(tgui.B(ptime.New(now).Format("yyyy/MM/dd"))) +
		"\n⏰ ساعت: " + string(tgui.B(now.Format("15:04:05"))) + lineSep
	footer := lineSep + "📡 " + string(tgui.I("قیمت‌ها بروز هستند."))

	body := fitLines(lines, MaxDigestRunes-utf8.RuneCountInString(header)-utf8.RuneCountInString(footer))
	return header + body + footer
}

// fitLines joins lines with lineSep within budget runes. When they do not
// all fit, trailing lines are replaced by a "+N more" line.
func fitLines(lines []tgui.H, budget int) string {
	all := string(tgui.JoinH(lineSep, lines...))
	if utf8.RuneCountInString(all) <= budget {
		return all
	}
	var b strings.Builder
	used := 0
	for i, l := range lines {
		rest := moreLine(len(lines) - i)
		n := utf8.RuneCountInString(string(l))
		if i > 0 {
			n += utf8.RuneCountInString(lineSep)
		}
		// Keep room for the "+N more" line that replaces what follows.
		tail := utf8.RuneCountInString(moreLine(len(lines)-i-1)) + utf8.RuneCountInString(lineSep)
		if used+n+tail > budget {
			if i > 0 {
				b.WriteString(lineSep)
			}
			b.WriteString(rest)
			return b.String()
		}
		if i > 0 {
			b.WriteString(lineSep)
		}
		b.WriteString(string(l))
		used += n
	}
	return b.String()
}

func moreLine(n int) string {
	return string(tgui.I("➕ " + strconv.Itoa(n) + " مورد دیگر"))
}

// FormatValue rounds to a whole number and groups thousands with commas.
func FormatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	n := int64(math.Round(v))
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
