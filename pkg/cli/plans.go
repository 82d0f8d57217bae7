package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

func newPlansCommand() *Command {
	cmd := &Command{
		Name:        "plans",
		Description: "Print the plan catalog",
		Flags:       flag.NewFlagSet("plans", flag.ContinueOnError),
		Run:         runPlans,
	}

	cmd.Flags.String("catalog", "", "Catalog YAML file (default: built-in catalog)")
	cmd.Flags.Bool("json", false, "Output in JSON format")

	return cmd
}

func newValidateCommand() *Command {
	return &Command{
		Name:        "validate",
		Description: "Validate a catalog YAML file",
		Run:         runValidate,
	}
}

func runPlans(_ context.Context, args []string) error {
	cmd := newPlansCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	catalog := plans.DefaultCatalog()
	if path := cmd.Flags.Lookup("catalog").Value.String(); path != "" {
		loaded, err := plans.LoadCatalogFile(path)
		if err != nil {
			return err
		}
		catalog = loaded
	}

	tiers := plans.UpgradePath()
	if cmd.Flags.Lookup("json").Value.String() == "true" {
		out := make(map[plans.PlanTier]plans.FeatureSet, len(tiers))
		for _, tier := range tiers {
			out[tier] = catalog.Lookup(tier)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "FEATURE")
	for _, tier := range tiers {
		fmt.Fprintf(w, "\t%s", tier.DisplayName())
	}
	fmt.Fprintln(w)

	for _, key := range plans.Keys() {
		fmt.Fprint(w, key)
		for _, tier := range tiers {
			v, _ := catalog.Value(tier, key)
			fmt.Fprintf(w, "\t%s", v)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func runValidate(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: repwatch-cli validate <catalog.yaml>")
	}

	if _, err := plans.LoadCatalogFile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: ok\n", args[0])
	return nil
}
