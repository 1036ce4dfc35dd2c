package prompt

import (
	"strings"
	"testing"

	"github.com/riverchat/kb-engine/internal/types"
)

func TestInjectNoChunksReturnsPromptUnchanged(t *testing.T) {
	system := "You are a helpful assistant."
	for _, chunks := range [][]string{nil, {}, {""}, {"  ", "\n"}} {
		got := Inject(system, chunks, types.DefaultContextTemplate, types.PositionAfterSystem)
		if got != system {
			t.Fatalf("Inject with chunks %q changed the prompt: %q", chunks, got)
		}
	}
}

func TestInjectAfterSystem(t *testing.T) {
	system := "You are a helpful assistant."
	got := Inject(system, []string{"fact one"}, "Context:\n{context}", types.PositionAfterSystem)
	want := system + "\n\nContext:\nfact one"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInjectBeforeSystem(t *testing.T) {
	system := "You are a helpful assistant."
	got := Inject(system, []string{"fact one"}, "Context:\n{context}", types.PositionBeforeSystem)
	want := "Context:\nfact one\n\n" + system
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInjectBeforeUserLeavesSystemPromptAlone(t *testing.T) {
	system := "You are a helpful assistant."
	got := Inject(system, []string{"fact one"}, "Context:\n{context}", types.PositionBeforeUser)
	if got != system {
		t.Fatalf("before_user must not touch the system prompt, got %q", got)
	}
}

func TestInjectJoinsChunksWithSeparator(t *testing.T) {
	got := Inject("sys", []string{"a", "", "b", "c"}, "{context}", types.PositionAfterSystem)
	want := "sys\n\na" + Separator + "b" + Separator + "c"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatMissingPlaceholderAppends(t *testing.T) {
	got := Format("No placeholder here.", "block")
	if !strings.HasPrefix(got, "No placeholder here.") || !strings.HasSuffix(got, "block") {
		t.Fatalf("got %q", got)
	}
}

func TestFormatEmptyTemplateUsesDefault(t *testing.T) {
	got := Format("  ", "block")
	want := strings.ReplaceAll(types.DefaultContextTemplate, types.ContextPlaceholder, "block")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
