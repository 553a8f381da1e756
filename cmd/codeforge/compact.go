package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/segmentationf4u1t/codeforge/internal/agent"
	"github.com/segmentationf4u1t/codeforge/internal/agent/providers"
	"github.com/segmentationf4u1t/codeforge/internal/compaction"
	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

// buildCompactCmd creates the "compact" command, which summarizes a
// session's history and appends a compaction boundary entry.
func buildCompactCmd(configPath *string) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "compact <session-id>",
		Short: "Estimate (or apply) compaction for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd.Context(), args[0], apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "summarize and append a compaction entry (requires ANTHROPIC_API_KEY)")
	return cmd
}

func runCompact(ctx context.Context, sessionID string, apply bool) error {
	store, idx, err := openStore()
	if err != nil {
		return err
	}
	defer idx.Close()
	defer store.Close()

	session, err := openSessionByID(store, sessionID)
	if err != nil {
		return err
	}
	defer session.Close()

	llmCtx, err := session.BuildSessionContext("")
	if err != nil {
		return fmt.Errorf("build session context: %w", err)
	}

	messages := toCompactionMessages(llmCtx.Messages)
	tokens := compaction.EstimateMessagesTokens(messages)
	fmt.Printf("session %s: %d messages, ~%d tokens\n", sessionID, len(messages), tokens)

	if !apply {
		return nil
	}
	if len(messages) == 0 {
		fmt.Println("nothing to compact")
		return nil
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("--apply requires ANTHROPIC_API_KEY to generate a summary")
	}
	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("create summarizer: %w", err)
	}

	summary, err := compaction.SummarizeWithFallback(ctx, messages, anthropicSummarizer{provider}, compaction.DefaultSummarizationConfig())
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	firstKept := llmCtx.Messages[len(llmCtx.Messages)-1].ID
	entry := sessiontree.Entry{
		Type: sessiontree.EntryCompaction,
		Compaction: &sessiontree.CompactionPayload{
			Summary:      summary,
			FirstKeptID:  firstKept,
			TokensBefore: tokens,
		},
	}
	if _, err := session.Append(entry); err != nil {
		return fmt.Errorf("append compaction entry: %w", err)
	}
	fmt.Println("compaction entry appended")
	return nil
}

// toCompactionMessages flattens session entries into the plain-text message
// shape the token estimator and summarizer operate on.
func toCompactionMessages(entries []sessiontree.Entry) []*compaction.Message {
	out := make([]*compaction.Message, 0, len(entries))
	for _, e := range entries {
		if e.Message == nil {
			continue
		}
		var text strings.Builder
		for _, block := range e.Message.Content {
			if block.Text != "" {
				text.WriteString(block.Text)
			}
		}
		role := "assistant"
		if e.Type == sessiontree.EntryUserMessage {
			role = "user"
		}
		out = append(out, &compaction.Message{
			ID:        e.ID,
			Role:      role,
			Content:   text.String(),
			Timestamp: e.Timestamp.Unix(),
		})
	}
	return out
}

// anthropicSummarizer adapts providers.AnthropicProvider to compaction.Summarizer
// by draining a completion stream into a single string.
type anthropicSummarizer struct {
	provider *providers.AnthropicProvider
}

func (a anthropicSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, cfg *compaction.SummarizationConfig) (string, error) {
	prompt := compaction.FormatMessagesForSummary(messages)
	req := &agent.CompletionRequest{
		System: "Summarize the following conversation history concisely, preserving durable facts and decisions.",
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: 1024,
	}
	chunks, err := a.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		out.WriteString(chunk.Text)
	}
	return out.String(), nil
}
