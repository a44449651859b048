package llm

import (
	"fmt"
	"strings"

	"github.com/memnetlabs/memnet/memory"
)

// extractPrompt asks the model to distill standalone factual statements
// from a conversation transcript.
func extractPrompt(conversationText string) string {
	return fmt.Sprintf(`You extract long-term memories from a conversation.

Only extract factual statements, preferences, and identifying context about
the user. Ignore small talk, questions, and anything not worth remembering
long-term. Each memory must be a standalone sentence that makes sense
without the rest of the conversation.

Respond with strict JSON only, no commentary, in exactly this shape:
{"memories":[{"data":"..."},{"data":"..."}]}

If nothing is worth remembering, respond with {"memories":[]}.

Conversation:
%s`, conversationText)
}

// mergePrompt asks the model to combine an existing memory with a new
// statement. Pronouns I/Me/My/User denote the user.
func mergePrompt(existing, new string) string {
	return fmt.Sprintf(`Merge these two memory statements about a user into one.
Preserve all factual information from both. When they conflict, prefer the
newer statement. De-duplicate phrasing. Pronouns I, Me, My, and User all
refer to the same user. Respond with only the merged sentence, no quotes,
no commentary.

Existing: %s
New: %s`, existing, new)
}

// rerankPrompt asks the model to reorder search results by relevance to
// query.
func rerankPrompt(query string, results []memory.MemorySearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Reorder the following memories by relevance to the query below.
Respond with strict JSON only, in exactly this shape:
{"ranked_indices":[i, j, ...]}

Indices refer to the 0-based position in the list below. Omit indices you
judge irrelevant. Do not invent indices outside the given range.

Query: %s

Memories:
`, query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d: %s\n", i, r.Memory.Data)
	}
	return b.String()
}
