package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aretw0/redliner/internal/presentation/graph"
	"github.com/aretw0/redliner/internal/presentation/tui"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent review sessions",
	Long:  `List, inspect, rewind and remove review sessions kept by the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List review sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		sessions, err := engine.Review().History(cmd.Context(), userID, limit)
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tUSER\tFILE\tSTATUS\tUPDATED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.SessionID, s.UserID, s.Filename, s.Status, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print the full session record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		sess, err := engine.Review().Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", args[0], err)
		}
		return printJSON(cmd.OutOrStdout(), sess)
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Print the status and next stage of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		st, err := engine.Review().Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var sessionResultsCmd = &cobra.Command{
	Use:   "results <session-id>",
	Short: "Print the committed stage results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		res, err := engine.Review().Results(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var sessionAuditCmd = &cobra.Command{
	Use:   "audit <session-id>",
	Short: "Compile the audit bundle of a finished session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		if format == "json" {
			b, err := engine.Review().Audit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		}
		md, err := engine.Review().AuditMarkdown(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := tui.NewRenderer(os.Stdout)(md)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

var sessionGraphCmd = &cobra.Command{
	Use:   "graph [session-id]",
	Short: "Export the pipeline as a Mermaid diagram",
	Long:  `Outputs a Mermaid diagram of the review pipeline. With a session id, committed, failed and current stages are highlighted.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(nil))
			return nil
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		sess, err := engine.Review().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(graph.OverlayFor(sess)))
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions and their documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		var failed error
		for _, sessionID := range args {
			if err := engine.Review().Delete(cmd.Context(), sessionID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error removing '%s': %v\n", sessionID, err)
				failed = err
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", sessionID)
		}
		return failed
	},
}

var sessionRewindCmd = &cobra.Command{
	Use:   "rewind <session-id> <stage>",
	Short: "Discard a stage and every later stage so they run again",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, _ := cmd.Flags().GetBool("run")

		stage, err := domain.ParseStage(args[1])
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close(cmd.Context())

		sess, err := engine.Review().Rewind(cmd.Context(), args[0], stage)
		if err != nil {
			return err
		}
		if run {
			if sess, err = engine.Review().Run(cmd.Context(), args[0]); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s (cursor %d)\n", sess.ID, sess.Status, sess.StageCursor)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd, sessionInspectCmd, sessionStatusCmd, sessionResultsCmd,
		sessionAuditCmd, sessionGraphCmd, sessionRmCmd, sessionRewindCmd)

	sessionLsCmd.Flags().StringP("user", "u", "", "Only list this user's sessions")
	sessionLsCmd.Flags().IntP("limit", "n", 20, "Maximum number of sessions")
	sessionAuditCmd.Flags().StringP("format", "f", "markdown", "Output format: markdown or json")
	sessionRewindCmd.Flags().Bool("run", false, "Run the pipeline again right after rewinding")
}
