package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"longagent/internal/checkpoint"
)

var statusCmd = &cobra.Command{
	Use:   "status [sessionId]",
	Short: "Show a session's latest checkpointed phase and progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	ws, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	store := checkpoint.New(filepath.Join(ws, ".longagent", "checkpoints"))
	rec := store.LoadCheckpoint(sessionID, "latest")
	if rec == nil {
		return fmt.Errorf("no checkpoint found for session %s", sessionID)
	}

	fmt.Printf("session:    %s\n", sessionID)
	fmt.Printf("phase:      %s\n", rec.Phase)
	fmt.Printf("stageIndex: %d / %d\n", rec.StageIndex, len(rec.StagePlan.Stages))
	fmt.Printf("progress:   %s\n", rec.LastProgress)
	fmt.Printf("savedAt:    %s\n", rec.SavedAt)
	return nil
}
