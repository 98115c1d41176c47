package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [sessionId]",
	Short: "Resume a session from its latest checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	orch, ws, err := buildOrchestrator()
	if err != nil {
		return err
	}

	res, err := orch.Resume(context.Background(), sessionID)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	fmt.Printf("workspace: %s\n", ws)
	return printResult(res)
}
