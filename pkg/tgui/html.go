package tgui

import (
	"html"
	"strings"
)

// H is text already safe for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw trusts s as-is. Only use it for literals.
func Raw(s string) H { return H(s) }

// B and I escape s and wrap it in bold or italic.
func B(s string) H { return tag("b", s) }
func I(s string) H { return tag("i", s) }

func tag(name, s string) H {
	return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">")
}

// JoinH joins parts with sep, skipping blank ones.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}
