package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopglide/cartcore/internal/config"
	"github.com/shopglide/cartcore/internal/model"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect recommendation rule sets",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Compile a rule-set file and report pattern diagnostics",
	Long:  "Load a rule-set YAML file, compile every pattern, and list which rules match by regex and which fell back to substring matching.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Recommend.RulesPath
		if len(args) > 0 {
			path = args[0]
		}

		rs, err := config.LoadRules(path)
		if rs == nil {
			return err
		}
		if err != nil {
			zap.L().Warn("rule set compiled with errors", zap.String("path", path), zap.Error(err))
		}

		if len(rs.ManualProductIDs) > 0 {
			fmt.Printf("manual list active (%d products); pattern rules are ignored while it is set\n\n", len(rs.ManualProductIDs))
		}

		formatRules(os.Stdout, "OVERRIDE", rs.Overrides)
		formatRules(os.Stdout, "AUTOMATIC", rs.Automatic)

		if len(rs.Overrides) == 0 && len(rs.Automatic) == 0 && len(rs.ManualProductIDs) == 0 {
			zap.L().Info("rule set is empty", zap.String("path", path))
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
	rootCmd.AddCommand(rulesCmd)
}

func formatRules(out io.Writer, kind string, rules []model.PatternRule) {
	if len(rules) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tPATTERN\tMODE\tKEYWORDS")
	_, _ = fmt.Fprintln(w, "----\t-------\t----\t--------")

	for i := range rules {
		mode := "regex"
		if err := rules[i].Compile(); err != nil {
			mode = "substring"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", kind, rules[i].Pattern, mode, len(rules[i].Keywords))
	}
	_ = w.Flush()
}
