package sessionstore

import (
	"fmt"

	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

// tokensPerImage approximates the token cost of a single inline image,
// matching the chars/4 text heuristic used alongside it.
const tokensPerImage = 1200

// EstimateTokens approximates the token cost of a single entry using a
// chars/4 heuristic plus a flat per-image constant, used to find compaction
// cut-points without a real tokenizer.
func EstimateTokens(e sessiontree.Entry) int {
	var chars, images int
	if e.Message != nil {
		chars += len(e.Message.ErrorMessage)
		for _, b := range e.Message.Content {
			chars += len(b.Text) + len(b.Thinking)
			if b.ToolCall != nil {
				chars += len(b.ToolCall.Name) + len(b.ToolCall.Input)
			}
			if b.ToolRes != nil {
				chars += len(b.ToolRes.Content)
			}
			if b.Image != nil {
				images++
			}
		}
	}
	if e.CustomMessage != nil {
		chars += len(e.CustomMessage.Content) + len(e.CustomMessage.Display)
	}
	if e.Compaction != nil {
		chars += len(e.Compaction.Summary)
	}
	if e.BranchSummary != nil {
		chars += len(e.BranchSummary.Summary)
	}
	return chars/4 + images*tokensPerImage
}

// validCutPoint reports whether an entry of this type may be chosen as a
// compaction boundary. A toolResult is never a valid cut-point: splitting a
// turn between a tool call and its result would leave a dangling call in
// the kept context.
func validCutPoint(t sessiontree.EntryType) bool {
	switch t {
	case sessiontree.EntryUserMessage, sessiontree.EntryAssistantMessage,
		sessiontree.EntryBashExecution, sessiontree.EntryCustomMessage,
		sessiontree.EntryBranchSummary, sessiontree.EntryCompaction:
		return true
	default:
		return false
	}
}

// orphanableControl reports whether an entry is a non-message control entry
// (a settings change) that must not be left dangling ahead of a cut-point.
func orphanableControl(t sessiontree.EntryType) bool {
	switch t {
	case sessiontree.EntryThinkingLevel, sessiontree.EntryModelChange, sessiontree.EntryLabel:
		return true
	default:
		return false
	}
}

// Summarizer condenses a run of entries into prose, typically backed by an
// LLM call over the entries' text content.
type Summarizer func(entries []sessiontree.Entry) (string, error)

// Compact walks the active branch backwards from the leaf, accumulating
// EstimateTokens until the running total reaches keepRecentTokens, then
// appends a single CompactionEntry at the nearest valid cut-point at or
// after that index. Preceding control entries (settings
// changes) immediately ahead of the chosen cut-point are pulled into the
// kept range so they are never orphaned.
//
// When the cut lands inside a turn (the common case once a single turn's
// tool calls exceed keepRecentTokens on their own), the appended summary
// concatenates two sections separated by "\n\n---\n\n": everything before
// that turn ("history"), and the discarded prefix of that same turn ("turn
// prefix"). A cut at a user message starts a fresh turn, so the summary is
// then the history section alone, with no divider.
func (s *Session) Compact(keepRecentTokens int, summarize Summarizer) (sessiontree.Entry, error) {
	full, err := s.GetBranch("")
	if err != nil {
		return sessiontree.Entry{}, err
	}
	if len(full) == 0 {
		return sessiontree.Entry{}, fmt.Errorf("sessionstore: compact: empty session")
	}

	cutIdx := 0
	accumulated := 0
	for i := len(full) - 1; i >= 0; i-- {
		accumulated += EstimateTokens(full[i])
		if accumulated >= keepRecentTokens {
			cutIdx = i
			break
		}
	}

	firstKeptIdx := cutIdx
	for firstKeptIdx < len(full)-1 && !validCutPoint(full[firstKeptIdx].Type) {
		firstKeptIdx++
	}
	if !validCutPoint(full[firstKeptIdx].Type) {
		// No valid cut-point exists forward of cutIdx (it's the session's
		// newest entry and isn't cuttable, e.g. a trailing toolResult);
		// fall back to the nearest valid point behind it rather than cut
		// at an invalid boundary.
		for firstKeptIdx > 0 && !validCutPoint(full[firstKeptIdx].Type) {
			firstKeptIdx--
		}
	}
	for firstKeptIdx > 0 && orphanableControl(full[firstKeptIdx-1].Type) {
		firstKeptIdx--
	}
	firstKept := full[firstKeptIdx]

	// The turn is split only when the cut lands on a non-user entry; a cut
	// at a user message starts a fresh turn and everything before it is
	// plain history.
	turnStart := firstKeptIdx
	if firstKept.Type != sessiontree.EntryUserMessage {
		turnStart = 0
		for i := firstKeptIdx - 1; i >= 0; i-- {
			if full[i].Type == sessiontree.EntryUserMessage {
				turnStart = i
				break
			}
		}
	}

	historySummary, err := summarizeRange(summarize, full[:turnStart])
	if err != nil {
		return sessiontree.Entry{}, fmt.Errorf("sessionstore: compact: summarize history: %w", err)
	}
	turnPrefixSummary, err := summarizeRange(summarize, full[turnStart:firstKeptIdx])
	if err != nil {
		return sessiontree.Entry{}, fmt.Errorf("sessionstore: compact: summarize turn prefix: %w", err)
	}
	summary := historySummary
	if turnPrefixSummary != "" {
		summary += "\n\n---\n\n" + turnPrefixSummary
	}

	tokensBefore := 0
	for _, e := range full[:firstKeptIdx] {
		tokensBefore += EstimateTokens(e)
	}

	entry, err := s.Append(sessiontree.Entry{
		Type: sessiontree.EntryCompaction,
		Compaction: &sessiontree.CompactionPayload{
			Summary:      summary,
			FirstKeptID:  firstKept.ID,
			TokensBefore: tokensBefore,
		},
	})
	if err != nil {
		return sessiontree.Entry{}, fmt.Errorf("sessionstore: compact: append boundary: %w", err)
	}
	return entry, nil
}

func summarizeRange(summarize Summarizer, entries []sessiontree.Entry) (string, error) {
	if summarize == nil || len(entries) == 0 {
		return "", nil
	}
	return summarize(entries)
}
