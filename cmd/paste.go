package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/revu/internal/models"
)

var (
	pasteFilename string
	pasteLanguage string
	pasteWatch    bool
)

// pasteInput is where paste reads code from, replaceable in tests.
var pasteInput io.Reader = os.Stdin

var pasteCmd = &cobra.Command{
	Use:   "paste",
	Short: "Submit code read from stdin",
	Long: `Read code from stdin and submit it as if it were a file named --filename.

  pbpaste | revu paste --filename snippet.py --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pasteRun(cmd.Context())
	},
}

func init() {
	pasteCmd.Flags().StringVarP(&pasteFilename, "filename", "f", "", "File name to submit the code under (required)")
	pasteCmd.Flags().StringVarP(&pasteLanguage, "language", "l", "", "Declared language")
	pasteCmd.Flags().BoolVarP(&pasteWatch, "watch", "w", false, "Wait for the review and print it")
	_ = pasteCmd.MarkFlagRequired("filename")
	rootCmd.AddCommand(pasteCmd)
}

func pasteRun(ctx context.Context) error {
	lang, err := parseLanguageFlag(pasteLanguage)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(pasteInput)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would submit %d bytes as %s", len(data), pasteFilename)
		return nil
	}

	gw, err := newGateway()
	if err != nil {
		return err
	}
	id, err := gw.SubmitPastedCode(ctx, string(data), pasteFilename, lang)
	if err != nil {
		return err
	}

	return afterSubmit(ctx, gw, &models.Submission{
		ID:       id,
		Filename: pasteFilename,
		Language: detectedLanguage(lang, pasteFilename),
		Status:   models.StatusPending,
	}, pasteWatch)
}
