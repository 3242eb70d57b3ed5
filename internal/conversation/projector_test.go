package conversation

import (
	"fmt"
	"testing"

	"github.com/devmiguelgomez/wow-backend/internal/persona"
)

func TestProjectPrimerAndRoleMapping(t *testing.T) {
	p, ok := persona.Lookup("horde")
	if !ok {
		t.Fatalf("horde persona missing")
	}

	turns := []Turn{
		{Role: RoleUser, Content: "who is thrall?"},
		{Role: RoleAssistant, Content: "the world-shaman"},
		{Role: RoleUser, Content: "and vol'jin?"},
	}

	got := Project(p, turns)

	// 2 synthetic primer entries + all turns except the newest one.
	if len(got) != 4 {
		t.Fatalf("projection length = %d, want 4", len(got))
	}
	if got[0].Role != "user" || got[0].Parts[0].Text != p.Preamble {
		t.Fatalf("entry 0 = %+v, want persona preamble as user", got[0])
	}
	if got[1].Role != "model" || got[1].Parts[0].Text != p.Ack {
		t.Fatalf("entry 1 = %+v, want persona ack as model", got[1])
	}
	if got[2].Role != "user" || got[2].Parts[0].Text != "who is thrall?" {
		t.Fatalf("entry 2 = %+v", got[2])
	}
	if got[3].Role != "model" || got[3].Parts[0].Text != "the world-shaman" {
		t.Fatalf("entry 3 = %+v, assistant must map to model", got[3])
	}
}

func TestProjectCountForAnyPriorLength(t *testing.T) {
	p, _ := persona.Lookup("alliance")

	for n := 0; n < 6; n++ {
		turns := make([]Turn, 0, n+1)
		for i := 0; i < n; i++ {
			role := RoleUser
			if i%2 == 1 {
				role = RoleAssistant
			}
			turns = append(turns, Turn{Role: role, Content: fmt.Sprintf("turn %d", i)})
		}
		// The pending user turn the caller submits as the live message.
		turns = append(turns, Turn{Role: RoleUser, Content: "newest"})

		got := Project(p, turns)
		if len(got) != n+2 {
			t.Fatalf("n=%d: projection length = %d, want %d", n, len(got), n+2)
		}
		for _, c := range got {
			if c.Parts[0].Text == "newest" {
				t.Fatalf("n=%d: pending user turn leaked into the projection", n)
			}
		}
	}
}

func TestProjectEmptyTurns(t *testing.T) {
	p, _ := persona.Lookup("alliance")
	got := Project(p, nil)
	if len(got) != 2 {
		t.Fatalf("projection of empty history length = %d, want the 2 primer entries", len(got))
	}
}

func TestProjectDoesNotMutateInput(t *testing.T) {
	p, _ := persona.Lookup("alliance")
	turns := []Turn{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
	}
	_ = Project(p, turns)
	if turns[0].Content != "a" || turns[1].Content != "b" || len(turns) != 2 {
		t.Fatalf("input turns mutated: %+v", turns)
	}
}
