package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/aretw0/redliner/internal/presentation/tui"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/review"
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review <file>",
	Short: "Review a contract and print its audit",
	Long: `Uploads a plain-text or markdown contract, runs the full pipeline in the
foreground and prints the audit bundle. The session is kept so it can be
inspected, rewound or removed later with 'redliner session'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		userID, _ := cmd.Flags().GetString("user")
		format, _ := cmd.Flags().GetString("format")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		if format != "json" && tui.IsTerminal(os.Stderr) {
			tui.PrintBanner(os.Stderr)
		}

		svc := engine.Review()
		sess, err := svc.Submit(cmd.Context(), review.Upload{
			UserID:      userID,
			Filename:    filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Data:        data,
		}, true)
		if err != nil {
			return err
		}

		switch format {
		case "json":
			if err := printJSON(cmd.OutOrStdout(), sess); err != nil {
				return err
			}
		default:
			md, err := svc.AuditMarkdown(cmd.Context(), sess.ID)
			if err != nil {
				return err
			}
			out, err := tui.NewRenderer(os.Stdout)(md)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %s\n", sess.ID, sess.Status)
		if sess.Status == domain.StatusFailed {
			return fmt.Errorf("review failed: %s", sess.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().StringP("user", "u", defaultUser(), "Owner of the review session")
	reviewCmd.Flags().StringP("format", "f", "markdown", "Output format: markdown or json")
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
