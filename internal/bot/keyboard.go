package bot

import (
	tele "gopkg.in/telebot.v4"

	"iranfinance/internal/selection"
	"iranfinance/pkg/tgui"
)

const (
	nsSelect     = "sel"
	actionToggle = "t"
	actionDone   = "done"

	gridCols = 2
)

// keyboard renders the selection grid: two items per row, then the save row.
func keyboard(v selection.View, tokens *tgui.TokenStore) *tgui.Inline {
	btns := make([]tele.Btn, 0, len(v.Entries))
	for _, e := range v.Entries {
		label := e.Name
		if e.Selected {
			label = mark + e.Name
		}
		btns = append(btns, tgui.Btn(label, tgui.DataOrToken(tokens, nsSelect, actionToggle, e.Name)))
	}
	return tgui.NewInline().
		Grid(gridCols, btns...).
		Row(tgui.Btn(btnSave, tgui.Data(nsSelect, actionDone, "")))
}

func chooser(text string, v selection.View, tokens *tgui.TokenStore) tgui.Message {
	return tgui.New().Line(text).Inline(keyboard(v, tokens)).Build()
}

// confirmation lists the committed names. It carries no keyboard so the grid
// disappears from the edited message.
func confirmation(names []string) tgui.Message {
	b := tgui.New().Line(textSaved).Blank()
	if len(names) == 0 {
		return b.HTML(tgui.I(textNothing)).Build()
	}
	for _, n := range names {
		b.Line("- " + n)
	}
	return b.Build()
}

func status(names []string) tgui.Message {
	if len(names) == 0 {
		return tgui.New().Line(textStatusEmpty).Build()
	}
	b := tgui.New().Title("📋", textStatusTitle)
	for _, n := range names {
		b.Line("🔹 " + n)
	}
	return b.Build()
}
