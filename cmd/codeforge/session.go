package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/segmentationf4u1t/codeforge/internal/sessionstore"
	"github.com/segmentationf4u1t/codeforge/internal/sessionstore/index"
	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

// buildSessionCmd creates the "session" command group for inspecting the
// session log of the current workspace.
func buildSessionCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect sessions for the current workspace",
	}
	cmd.AddCommand(buildSessionListCmd(), buildSessionTreeCmd())
	return cmd
}

func buildSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions recorded for the current workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, idx, err := openStore()
			if err != nil {
				return err
			}
			defer idx.Close()
			defer store.Close()

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			sessions, err := store.List(cwd)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions recorded for this workspace")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s\t%s\t%s\t%s\n", s.ID, s.Provider, s.ModelID, s.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func buildSessionTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <session-id>",
		Short: "Print the branch tree for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, idx, err := openStore()
			if err != nil {
				return err
			}
			defer idx.Close()
			defer store.Close()

			session, err := openSessionByID(store, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			node, err := session.GetTree()
			if err != nil {
				return fmt.Errorf("build tree: %w", err)
			}
			printTreeNode(node, 0)
			return nil
		},
	}
}

func printTreeNode(node sessiontree.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	label := node.Label
	if label == "" {
		label = string(node.Entry.Type)
	}
	fmt.Printf("%s%s %s\n", indent, node.Entry.ID, label)
	for _, child := range node.Children {
		printTreeNode(child, depth+1)
	}
}

func openStore() (*sessionstore.Store, *index.SQLiteIndex, error) {
	idx, err := index.Open(filepath.Join(sessionDataDir(), "sessions.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open session index: %w", err)
	}
	store, err := sessionstore.NewStore(sessionDataDir(), idx, nil)
	if err != nil {
		idx.Close()
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return store, idx, nil
}

func openSessionByID(store *sessionstore.Store, id string) (*sessionstore.Session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	sessions, err := store.List(cwd)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.ID == id || strings.HasPrefix(s.ID, id) {
			return store.Open(s.Path)
		}
	}
	return nil, fmt.Errorf("session %q not found in this workspace", id)
}
