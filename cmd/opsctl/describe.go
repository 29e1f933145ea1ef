package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pitabwire/operations/internal/decision"
	"github.com/pitabwire/operations/internal/request"
	"github.com/pitabwire/operations/model"
)

var (
	describeScopeID string
	listScope       string
)

var describeCmd = &cobra.Command{
	Use:   "describe <operation>",
	Short: "Show an operation and whether it can run without its form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		op, err := a.lookup(args[0])
		if err != nil {
			return err
		}
		strict := a.cfg.Engine.RestrictToHostPageTypes
		reason := decision.Explain(op, strict)

		fmt.Printf("key:              %s\n", op.Key())
		fmt.Printf("name:             %s\n", op.DisplayName())
		fmt.Printf("scope:            %s\n", op.Scope)
		fmt.Printf("result type:      %s\n", op.ResultType)
		fmt.Printf("runs directly:    %t (%s)\n", reason == decision.ReasonDirect, reason)
		fmt.Printf("confirmation:     %s\n", confirmationLabel(op))
		if len(op.MissingRequiredParameters) > 0 {
			fmt.Printf("missing required: %s\n", strings.Join(op.MissingRequiredParameters, ", "))
		}
		if len(op.MissingOptionalParameters) > 0 {
			fmt.Printf("missing optional: %s\n", strings.Join(op.MissingOptionalParameters, ", "))
		}
		if path, err := request.RunPath(op, describeScopeID); err == nil {
			fmt.Printf("run screen:       %s\n", path)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the operations of the configured catalogs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		ops := a.registry.All()
		if listScope != "" {
			ops = filterScope(ops, model.Scope(listScope))
		}
		sort.Slice(ops, func(i, j int) bool { return ops[i].Key() < ops[j].Key() })

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ops)
		}
		if len(ops) == 0 {
			fmt.Println("no operations")
			return nil
		}

		strict := a.cfg.Engine.RestrictToHostPageTypes
		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			direct := "form"
			if decision.CanRunDirectly(op, strict) {
				direct = "direct"
			}
			rows = append(rows, []string{op.Key(), op.DisplayName(), string(op.Scope), string(op.ResultType), direct})
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("KEY", "NAME", "SCOPE", "RESULT", "RUN").
			Rows(rows...)
		fmt.Println(t.String())
		return nil
	},
}

func init() {
	describeCmd.Flags().StringVar(&describeScopeID, "scope-id", "", "scope id used to build the run screen path")
	listCmd.Flags().StringVar(&listScope, "scope", "", "only list operations of this scope")
	listCmd.Flags().BoolVar(&runJSON, "json", false, "print descriptors as JSON")
}

func filterScope(ops []*model.OperationDescriptor, scope model.Scope) []*model.OperationDescriptor {
	var out []*model.OperationDescriptor
	for _, op := range ops {
		if op.Scope == scope {
			out = append(out, op)
		}
	}
	return out
}

func confirmationLabel(op *model.OperationDescriptor) string {
	switch {
	case op.RequireConfirmationPassword:
		return "credential"
	case op.ConfirmationText != "":
		return "confirm: " + op.ConfirmationText
	default:
		return "none"
	}
}
