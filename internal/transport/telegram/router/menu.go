package router

import (
	"sort"
	"strings"

	kit "iranfinance/internal/transport"
)

// Bot API limits for setMyCommands.
const (
	maxCommandLen     = 32
	maxDescriptionLen = 256
	maxMenuCommands   = 100
)

// commandName folds s into a valid bot command: lowercase [a-z0-9_], at most
// 32 bytes, starting with a letter. Separators become single underscores and
// other characters are dropped. It returns "" when nothing usable is left.
func commandName(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', r == ' ', r == '\t':
			sep = true
		}
	}
	name := b.String()
	if name != "" && name[0] <= '9' {
		name = "cmd_" + name
	}
	if len(name) > maxCommandLen {
		name = strings.TrimRight(name[:maxCommandLen], "_")
	}
	return name
}

// buildMenuCommands lists each routable command once, sorted by name.
// Aliases stay out of the menu.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	desc := make(map[string]string, len(cmds))
	for _, c := range cmds {
		name := commandName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		d := strings.Join(strings.Fields(c.Description), " ")
		if d == "" {
			d = name
		}
		if r := []rune(d); len(r) > maxDescriptionLen {
			d = string(r[:maxDescriptionLen])
		}
		desc[name] = d
	}

	menu := make([]kit.BotCommand, 0, len(desc))
	for name, d := range desc {
		menu = append(menu, kit.BotCommand{Command: name, Description: d})
	}
	sort.Slice(menu, func(i, j int) bool { return menu[i].Command < menu[j].Command })
	if len(menu) > maxMenuCommands {
		menu = menu[:maxMenuCommands]
	}
	return menu
}
