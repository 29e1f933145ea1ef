package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/engine"
	"github.com/pitabwire/operations/internal/navigation"
	"github.com/pitabwire/operations/internal/registry"
	"github.com/pitabwire/operations/internal/terminal"
	"github.com/pitabwire/operations/model"
)

var (
	runScopeID  string
	runParams   []string
	runPassword string
	runYes      bool
	runJSON     bool
	runSession  string
	runSubject  string
)

var runCmd = &cobra.Command{
	Use:   "run <operation>",
	Short: "Run an operation by id or internal name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		params, err := parseParams(runParams)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		op, err := a.lookup(args[0])
		if err != nil {
			return err
		}
		return a.run(ctx, op, params)
	},
}

func init() {
	runCmd.Flags().StringVar(&runScopeID, "scope-id", "", "record, transfer or advertisement id the operation applies to")
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "form parameter as key=value (repeatable)")
	runCmd.Flags().StringVar(&runPassword, "password", "", "confirmation credential for the first prompt")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "confirm plain prompts without asking")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run report as JSON")
	runCmd.Flags().StringVar(&runSession, "session", "cli", "navigation session id")
	runCmd.Flags().StringVar(&runSubject, "subject", os.Getenv("USER"), "subject the run is attributed to")
}

// run executes op with the terminal collaborators and persists the session
// breadcrumb afterwards.
func (a *app) run(ctx context.Context, op *model.OperationDescriptor, params map[string]string) error {
	rctx := &model.RequestContext{
		SubjectID: runSubject,
		SessionID: runSession,
		Token:     firstNonEmpty(token, os.Getenv("OPERATIONS_TOKEN")),
		Channel:   a.cfg.Backend.Channel,
	}
	if rctx.SubjectID == "" {
		rctx.SubjectID = "cli"
	}
	if err := rctx.Validate(); err != nil {
		return err
	}
	ctx = model.WithRequestContext(ctx, rctx)

	sess, err := navigation.OpenSession(ctx, a.history, rctx.SessionID)
	if err != nil {
		return err
	}
	defer sess.Close()

	color := terminal.ColorEnabled(os.Stdout, a.cfg.Terminal.NoColor)
	eng := engine.New(registry.NewSession(a.registry), a.transport, engine.Collaborators{
		Prompter: terminal.NewPrompter(os.Stdin, os.Stderr,
			terminal.WithAssumeYes(runYes),
			terminal.WithPresetCredential(runPassword),
		),
		Notifier:   terminal.NewNotifier(os.Stdout, color),
		Files:      terminal.NewFileSaver(a.cfg.Terminal.DownloadDir, os.Stdout),
		Browser:    terminal.NewBrowser(os.Stdout, color),
		Breadcrumb: sess,
		Router:     sess,
	}, a.engineOptions()...)

	report, runErr := eng.Run(ctx, op, runScopeID, params)
	if err := sess.Flush(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("saving navigation history failed", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(terminal.NewRenderer(os.Stdout, color), report)
	return nil
}

func printReport(r *terminal.Renderer, report engine.Report) {
	switch {
	case report.Cancelled:
		fmt.Fprintln(os.Stderr, "cancelled")
	case report.RunScreen != "":
		fmt.Printf("%s needs its parameter form: %s\n", report.Operation, report.RunScreen)
	case !report.Handled:
		r.Render(report.Result)
	}
}

// parseParams parses key=value pairs. Later keys win.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", p)
		}
		params[strings.TrimSpace(k)] = v
	}
	return params, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
