package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/revu/internal/chat"
	"github.com/joescharf/revu/internal/models"
	"github.com/joescharf/revu/internal/output"
)

var (
	chatMessages []string
	chatSave     bool
	chatList     bool
)

// chatInput is where the interactive chat reads lines from, replaceable in tests.
var chatInput io.Reader = os.Stdin

var chatCmd = &cobra.Command{
	Use:   "chat <submission-id>",
	Short: "Ask questions about a submission's review",
	Long: `Open a chat session about one submission's review.

Without -m, reads questions interactively. Commands inside the session:
  /help     show suggested questions
  /history  reprint the conversation
  /quit     leave (Ctrl-D works too)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatList {
			return chatListRun(cmd.Context(), args[0])
		}
		return chatRun(cmd.Context(), args[0])
	},
}

func init() {
	chatCmd.Flags().StringArrayVarP(&chatMessages, "message", "m", nil, "Send this message and exit (repeatable)")
	chatCmd.Flags().BoolVar(&chatSave, "save", false, "Save the transcript to local history")
	chatCmd.Flags().BoolVar(&chatList, "transcripts", false, "List saved transcripts for the submission")
	rootCmd.AddCommand(chatCmd)
}

func chatRun(ctx context.Context, submissionID string) error {
	mgr, err := newChatManager()
	if err != nil {
		return err
	}
	session, err := mgr.Open(ctx, submissionID)
	if err != nil {
		return err
	}

	printMessage(session.History()[0])
	if len(chatMessages) > 0 {
		for _, m := range chatMessages {
			if err := chatTurn(ctx, session, m); err != nil {
				return err
			}
		}
	} else {
		printSuggestions()
		if err := chatLoop(ctx, session, chatInput); err != nil {
			return err
		}
	}

	if chatSave {
		return saveTranscript(ctx, session)
	}
	return nil
}

func chatLoop(ctx context.Context, session *chat.Session, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(ui.Out, output.Cyan("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(ui.Out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			printSuggestions()
			continue
		case "/history":
			for _, m := range session.History() {
				printMessage(m)
			}
			continue
		}
		if err := chatTurn(ctx, session, line); err != nil {
			return err
		}
	}
}

func chatTurn(ctx context.Context, session *chat.Session, text string) error {
	if len(chatMessages) > 0 {
		fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan("you>"), text)
	}
	reply, err := session.Send(ctx, text)
	if err != nil {
		return err
	}
	printMessage(reply)
	if serr := session.Err(); serr != nil {
		ui.VerboseLog("last message failed: %v", serr)
	}
	return nil
}

func printMessage(m models.ChatMessage) {
	if m.Role == models.RoleUser {
		fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan("you>"), m.Content)
		return
	}
	fmt.Fprintf(ui.Out, "%s %s\n\n", output.Green("reviewer>"), m.Content)
}

func printSuggestions() {
	fmt.Fprintln(ui.Out, "Try asking:")
	for _, q := range chat.SuggestedQuestions {
		fmt.Fprintf(ui.Out, "  - %s\n", q)
	}
	fmt.Fprintln(ui.Out)
}

func saveTranscript(ctx context.Context, session *chat.Session) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	tr := session.Transcript()
	if err := s.SaveTranscript(ctx, tr); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	ui.Success("Transcript saved (%d messages)", len(tr.Messages))
	return nil
}

func chatListRun(ctx context.Context, submissionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	trs, err := s.ListTranscripts(ctx, submissionID)
	if err != nil {
		return err
	}
	if len(trs) == 0 {
		ui.Info("No saved transcripts for %s", submissionID)
		return nil
	}
	for _, tr := range trs {
		fmt.Fprintf(ui.Out, "%s  %s  (%d messages)\n",
			output.Cyan(tr.ID), tr.CreatedAt.Local().Format("2006-01-02 15:04"), len(tr.Messages))
		for _, m := range tr.Messages {
			printMessage(m)
		}
	}
	return nil
}
