package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-cat/internal/bank"
)

var importCmd = &cobra.Command{
	Use:   "import --assignment ID FILE...",
	Short: "Import question bank files into an assignment",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().String("assignment", "", "assignment id the items belong to")
	_ = importCmd.MarkFlagRequired("assignment")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	assignmentID, _ := cmd.Flags().GetString("assignment")

	store, conn, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, path := range args {
		n, err := importFile(cmd, store, assignmentID, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: imported %d items into %s\n", path, n, assignmentID)
	}
	return nil
}

func importFile(cmd *cobra.Command, imp bank.Importer, assignmentID, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return bank.Load(cmd.Context(), imp, assignmentID, f)
}
