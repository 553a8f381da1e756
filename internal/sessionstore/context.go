package sessionstore

import (
	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

// LLMContext is what a provider adapter actually sees: a system prompt plus
// a flattened, compaction-resolved message list.
type LLMContext struct {
	SystemPrompt string
	Messages     []sessiontree.Entry
}

// BuildSessionContext walks the current branch, honors the compaction
// boundary rule (stop at the newest CompactionEntry,
// context becomes a synthetic summary message followed by everything from
// FirstKeptID onward), drops CustomEntry (hook-private, never shown to the
// LLM), and keeps CustomMessageEntry/BashExecutionMessage as-is for the
// caller's convertToLlm step to expand into provider-native messages.
func (s *Session) BuildSessionContext(systemPrompt string) (LLMContext, error) {
	full, err := s.GetBranch("")
	if err != nil {
		return LLMContext{}, err
	}

	compactionIdx := -1
	for i := len(full) - 1; i >= 0; i-- {
		if full[i].Type == sessiontree.EntryCompaction {
			compactionIdx = i
			break
		}
	}

	var effective []sessiontree.Entry
	if compactionIdx == -1 {
		effective = full
	} else {
		comp := full[compactionIdx].Compaction
		summaryEntry := sessiontree.Entry{
			Type: sessiontree.EntryCustomMessage,
			ID:   full[compactionIdx].ID,
			CustomMessage: &sessiontree.CustomMessagePayload{
				CustomType: "compaction_summary",
				Content:    comp.Summary,
			},
		}
		effective = append(effective, summaryEntry)
		include := false
		for _, e := range full {
			if e.ID == comp.FirstKeptID {
				include = true
			}
			if include && e.Type != sessiontree.EntryCompaction {
				effective = append(effective, e)
			}
		}
	}

	messages := make([]sessiontree.Entry, 0, len(effective))
	for _, e := range effective {
		if e.Type == sessiontree.EntryHeader || e.Type == sessiontree.EntryCustom ||
			e.Type == sessiontree.EntryThinkingLevel || e.Type == sessiontree.EntryModelChange ||
			e.Type == sessiontree.EntryLabel || e.Type == sessiontree.EntryBranchSummary {
			continue
		}
		messages = append(messages, e)
	}

	return LLMContext{SystemPrompt: systemPrompt, Messages: messages}, nil
}
