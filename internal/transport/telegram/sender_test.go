package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "pricewatch/internal/transport"
	logx "pricewatch/pkg/logx"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(s, 10, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 6) || got[1] != strings.Repeat("b", 6) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextRespectsLimit(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ж", 95)
	for _, chunk := range splitTelegramText(s, 10, "") {
		if n := utf8.RuneCountInString(chunk); n > 10 {
			t.Fatalf("chunk has %d runes", n)
		}
	}
}

func TestSplitTelegramTextHTMLTag(t *testing.T) {
	t.Parallel()
	s := "abcdefg<b>bold</b>"
	got := splitTelegramText(s, 9, "HTML")
	if got[0] != "abcdefg" {
		t.Fatalf("first chunk = %q, tag was cut", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestNewOffline(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	if err != nil || s == nil {
		t.Fatalf("New offline = %v, %v", s, err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	if err := classify(fmt.Errorf("send: %w", tele.ErrBlockedByUser)); !errors.Is(err, kit.ErrUnreachable) {
		t.Fatalf("blocked user not unreachable: %v", err)
	}
	plain := errors.New("timeout")
	if err := classify(plain); errors.Is(err, kit.ErrUnreachable) {
		t.Fatal("transient error marked unreachable")
	}
}
