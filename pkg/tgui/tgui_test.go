package tgui

import (
	"strconv"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestParseDataKeepsColonsInPayload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in                   string
		ns, action, payload string
	}{
		{"sel:done", "sel", "done", ""},
		{"sel:t:Gold", "sel", "t", "Gold"},
		{"sel:t:USD:EUR", "sel", "t", "USD:EUR"},
		{"sel", "sel", "", ""},
	}
	for _, tc := range cases {
		ns, action, payload := ParseData(tc.in)
		if ns != tc.ns || action != tc.action || payload != tc.payload {
			t.Fatalf("ParseData(%q)=(%q,%q,%q)", tc.in, ns, action, payload)
		}
	}
}

func TestDataOrTokenRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewTokenStore()
	short := DataOrToken(store, "sel", "t", "Gold")
	if short != "sel:t:Gold" {
		t.Fatalf("short payload was tokenised: %q", short)
	}

	long := strings.Repeat("سکه ", 20)
	d := DataOrToken(store, "sel", "t", long)
	if len(d) > MaxCallbackDataLen {
		t.Fatalf("callback data too long: %d bytes", len(d))
	}
	_, _, payload := ParseData(d)
	got, ok := ResolvePayload(store, payload)
	if !ok || got != long {
		t.Fatalf("ResolvePayload=%q,%v", got, ok)
	}

	tilde := DataOrToken(store, "sel", "t", "~x")
	_, _, p := ParseData(tilde)
	if got, ok := ResolvePayload(store, p); !ok || got != "~x" {
		t.Fatalf("tilde payload resolved to %q,%v", got, ok)
	}
}

func TestTokenStoreExpiry(t *testing.T) {
	t.Parallel()

	store := NewTokenStore().WithTTL(10 * time.Millisecond)
	tok := store.PutString("v")
	time.Sleep(30 * time.Millisecond)
	if _, ok := store.GetString(tok); ok {
		t.Fatalf("expired token still resolves")
	}
	if _, ok := ResolvePayload(store, "~unknown"); ok {
		t.Fatalf("unknown token resolved")
	}
}

func TestInlineGrid(t *testing.T) {
	t.Parallel()

	btns := []tele.Btn{Btn("a", "x:a"), Btn("b", "x:b"), Btn("c", "x:c")}
	kb := NewInline().Grid(2, btns...).Row(Btn("done", "x:done"))
	rows := kb.Rows()
	if len(rows) != 3 || len(rows[0]) != 2 || len(rows[1]) != 1 || rows[2][0].Text != "done" {
		t.Fatalf("unexpected layout: %+v", rows)
	}
	if len(kb.Markup().InlineKeyboard) != 3 {
		t.Fatalf("markup not applied")
	}
}

func TestBuilderEscapes(t *testing.T) {
	t.Parallel()

	msg := New().Title("📢", "A&B").Line("<x>").Build()
	want := "📢 <b>A&amp;B</b>\n&lt;x&gt;"
	if msg.Text != want {
		t.Fatalf("got %q want %q", msg.Text, want)
	}
	if msg.Opt.ParseMode != "HTML" || msg.Opt.ReplyMarkup != nil {
		t.Fatalf("unexpected options %+v", msg.Opt)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	if got := TruncRunes("سلام دنیا", 4); got != "سلا…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("abc", 3); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncLinesKeepsTagsBalanced(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("<b>سکه " + strconv.Itoa(i) + "</b>: <i>۱۲۳٬۴۵۶</i>\n")
	}
	s := b.String()
	got := TruncLines(s, 200)
	if n := len([]rune(got)); n > 200 {
		t.Fatalf("got %d runes", n)
	}
	if !strings.HasSuffix(got, "\n…") {
		t.Fatalf("expected ellipsis line, got %q", got)
	}
	if strings.Count(got, "<b>") != strings.Count(got, "</b>") || strings.Count(got, "<i>") != strings.Count(got, "</i>") {
		t.Fatalf("unbalanced tags in %q", got)
	}
	if TruncLines("<b>x</b>", 10) != "<b>x</b>" {
		t.Fatal("short text changed")
	}
}

func TestTokenStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	store := NewTokenStore().WithMax(2)
	first := store.PutString("a")
	second := store.PutString("b")
	third := store.PutString("c")

	if store.Len() != 2 {
		t.Fatalf("Len=%d, want 2", store.Len())
	}
	if _, ok := store.GetString(first); ok {
		t.Fatalf("oldest token survived eviction")
	}
	for tok, want := range map[string]string{second: "b", third: "c"} {
		if got, ok := store.GetString(tok); !ok || got != want {
			t.Fatalf("GetString(%q)=%q,%v want %q", tok, got, ok, want)
		}
	}
}

func TestTokenIsStablePerPayload(t *testing.T) {
	t.Parallel()

	store := NewTokenStore()
	a1 := store.PutString("alpha")
	a2 := store.PutString("alpha")
	b := store.PutString("beta")
	if a1 != a2 {
		t.Fatalf("same payload got tokens %q and %q", a1, a2)
	}
	if a1 == b {
		t.Fatalf("different payloads share token %q", a1)
	}
	if strings.Contains(a1, ":") || !strings.HasPrefix(a1, tokenPrefix) {
		t.Fatalf("bad token %q", a1)
	}
	if store.Len() != 2 {
		t.Fatalf("Len=%d, want 2", store.Len())
	}
}

func TestTokenStoreRefreshKeepsReusedToken(t *testing.T) {
	t.Parallel()

	store := NewTokenStore().WithMax(2)
	a := store.PutString("a")
	b := store.PutString("b")
	store.PutString("a")
	store.PutString("c")

	if _, ok := store.GetString(b); ok {
		t.Fatalf("least recently stored token survived")
	}
	if got, ok := store.GetString(a); !ok || got != "a" {
		t.Fatalf("refreshed token lost: %q,%v", got, ok)
	}
}

func TestRepeatedGridsKeepButtonsResolvable(t *testing.T) {
	t.Parallel()

	long := make([]string, 60)
	for i := range long {
		long[i] = strings.Repeat("سکه ", 10) + strconv.Itoa(i)
	}
	grid := func(store *TokenStore) []string {
		out := make([]string, len(long))
		for i, n := range long {
			out[i] = DataOrToken(store, "sel", "t", n)
		}
		return out
	}

	store := NewTokenStore()
	first := grid(store)
	for i := 0; i < 90; i++ {
		grid(store)
	}
	for i, d := range first {
		_, _, payload := ParseData(d)
		if got, ok := ResolvePayload(store, payload); !ok || got != long[i] {
			t.Fatalf("button %d (%q) resolves to %q,%v", i, d, got, ok)
		}
	}
	if store.Len() != len(long) {
		t.Fatalf("Len=%d, want %d", store.Len(), len(long))
	}
}
