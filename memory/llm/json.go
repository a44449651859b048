package llm

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/memnetlabs/memnet/memory"
)

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` block,
// since models frequently wrap "strict JSON" responses in markdown despite
// being told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseExtractedMemories reads {"memories":[{"data":"..."}, ...]}. A
// response gjson can't locate the "memories" array in is a parse failure:
// the caller gets a nil list, never an error. A parsed array, even an empty
// one, yields a non-nil slice.
func parseExtractedMemories(raw string) []memory.ExtractedMemory {
	clean := stripCodeFence(raw)
	arr := gjson.Get(clean, "memories")
	if !arr.Exists() || !arr.IsArray() {
		return nil
	}

	out := []memory.ExtractedMemory{}
	for _, el := range arr.Array() {
		data := strings.TrimSpace(el.Get("data").String())
		if data == "" {
			continue
		}
		out = append(out, memory.ExtractedMemory{Data: data})
	}
	return out
}

// parseRankedIndices reads {"ranked_indices":[i, j, ...]}. The second
// return value is false when the array couldn't be located, signaling the
// caller to fail open and keep the original order.
func parseRankedIndices(raw string) ([]int, bool) {
	clean := stripCodeFence(raw)
	arr := gjson.Get(clean, "ranked_indices")
	if !arr.Exists() || !arr.IsArray() {
		return nil, false
	}

	var out []int
	for _, el := range arr.Array() {
		out = append(out, int(el.Int()))
	}
	return out, true
}

// applyRankedIndices reorders results per indices, dropping out-of-range and
// omitted positions.
func applyRankedIndices(results []memory.MemorySearchResult, indices []int) []memory.MemorySearchResult {
	out := make([]memory.MemorySearchResult, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(results) {
			continue
		}
		out = append(out, results[idx])
	}
	return out
}
