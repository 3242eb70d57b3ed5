package conversation

import (
	"github.com/devmiguelgomez/wow-backend/internal/gemini"
	"github.com/devmiguelgomez/wow-backend/internal/persona"
)

// Project converts persisted turns into the history the completion API
// expects. The history always opens with two synthetic primer entries (the
// persona preamble as a "user" entry and its acknowledgement as a "model"
// entry) that are never persisted as real turns.
//
// The newest turn is excluded: the caller has already appended the pending
// user turn and submits its content separately as the live message, so
// projecting it too would double-submit it. A trailing user turn left behind
// by an earlier failed exchange is projected like any other turn.
//
// Pure function: no I/O, no mutation of the input.
func Project(p persona.Persona, turns []Turn) []gemini.Content {
	out := make([]gemini.Content, 0, len(turns)+2)
	out = append(out,
		gemini.Text("user", p.Preamble),
		gemini.Text("model", p.Ack),
	)
	for i := 0; i < len(turns)-1; i++ {
		out = append(out, gemini.Text(mapRole(turns[i].Role), turns[i].Content))
	}
	return out
}

func mapRole(r Role) string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}
