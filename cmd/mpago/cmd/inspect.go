package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [topic-root]",
	Short: "Print the info document of every topic under a root directory",
	Long: `inspect reads the info JSON document written by every topic
directly under the given root (or the configured topic root if omitted),
printing each one. It is a read-only, out-of-process diagnostic: it does
not join any topic's request FIFO.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	root := ""
	if len(args) == 1 {
		root = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root = cfg.Topic.Root
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading topic root %s: %w", root, err)
	}

	found := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		infoPath := filepath.Join(root, e.Name(), "info")
		data, err := os.ReadFile(infoPath)
		if err != nil {
			continue
		}
		found++
		fmt.Printf("=== %s ===\n%s\n\n", e.Name(), string(data))
	}

	if found == 0 {
		fmt.Printf("no topics found under %s\n", root)
	}
	return nil
}
