package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joescharf/revu/internal/gateway"
	"github.com/joescharf/revu/internal/models"
)

var (
	submitLanguage string
	submitWatch    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a source file for review",
	Long: `Upload a source file to the review backend.

Accepted extensions: .py .js .jsx .ts .tsx .java .cpp .c .go
With --watch, polls until the review finishes and prints it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitRun(cmd.Context(), args[0])
	},
}

func init() {
	submitCmd.Flags().StringVarP(&submitLanguage, "language", "l", "", "Declared language (default: detected by the backend)")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "Wait for the review and print it")
	rootCmd.AddCommand(submitCmd)
}

func submitRun(ctx context.Context, path string) error {
	lang, err := parseLanguageFlag(submitLanguage)
	if err != nil {
		return err
	}
	if err := gateway.ValidateFilename(path); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would submit %s (language: %s)", path, orUnset(string(lang)))
		return nil
	}

	gw, err := newGateway()
	if err != nil {
		return err
	}
	id, err := gw.SubmitFile(ctx, path, lang)
	if err != nil {
		return err
	}

	return afterSubmit(ctx, gw, &models.Submission{
		ID:       id,
		Filename: filepath.Base(path),
		Language: detectedLanguage(lang, path),
		Status:   models.StatusPending,
	}, submitWatch)
}

// afterSubmit records a new submission and optionally watches it.
func afterSubmit(ctx context.Context, gw *gateway.Gateway, sub *models.Submission, watch bool) error {
	recordSubmission(ctx, sub)
	ui.Success("Submitted %s as %s", sub.Filename, sub.ID)
	if !watch {
		ui.Info("Run 'revu watch %s' to follow the review", sub.ID)
		return nil
	}
	return watchAndShow(ctx, gw, sub.ID)
}

func parseLanguageFlag(s string) (models.Language, error) {
	lang, ok := models.ParseLanguage(s)
	if !ok {
		return "", fmt.Errorf("unknown language %q (python, javascript, typescript, java, cpp, c, go)", s)
	}
	return lang, nil
}

func detectedLanguage(lang models.Language, filename string) models.Language {
	if lang != "" {
		return lang
	}
	return models.LanguageFromFilename(filename)
}

func orUnset(s string) string {
	if s == "" {
		return "(auto)"
	}
	return s
}
