package cli

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/platinummonkey/repwatch/pkg/api"
	"github.com/platinummonkey/repwatch/pkg/plans"
)

const defaultServer = "http://localhost:8080"

func newSubjectFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("server", defaultServer, "repwatch server URL")
	fs.String("subject", "", "Subject ID (required)")
	fs.Bool("json", false, "Output in JSON format")
	return fs
}

func newCheckCommand() *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Check whether a subject can use a feature",
		Flags:       newSubjectFlags("check"),
		Run:         runCheck,
	}
	cmd.Flags.String("feature", "", "Feature key (required)")
	cmd.Flags.Int64("usage", -1, "Usage to check against the limit (default: recorded usage)")
	return cmd
}

func newChangePlanCommand() *Command {
	cmd := &Command{
		Name:        "change-plan",
		Description: "Move a subject to another plan",
		Flags:       newSubjectFlags("change-plan"),
		Run:         runChangePlan,
	}
	cmd.Flags.String("plan", "", "Target plan: free, basic, pro, enterprise (required)")
	return cmd
}

func newConsumeCommand() *Command {
	cmd := &Command{
		Name:        "consume",
		Description: "Record metered usage for a subject",
		Flags:       newSubjectFlags("consume"),
		Run:         runConsume,
	}
	cmd.Flags.String("feature", "", "Quantity feature key (required)")
	cmd.Flags.Int64("units", 1, "Units to consume")
	return cmd
}

// parseSubjectFlags parses args and returns server, subject and json output
func parseSubjectFlags(cmd *Command, args []string) (string, string, bool, error) {
	if err := cmd.Flags.Parse(args); err != nil {
		return "", "", false, err
	}
	subject := cmd.Flags.Lookup("subject").Value.String()
	if subject == "" {
		return "", "", false, fmt.Errorf("--subject is required")
	}
	server := cmd.Flags.Lookup("server").Value.String()
	asJSON := cmd.Flags.Lookup("json").Value.String() == "true"
	return server, subject, asJSON, nil
}

func requireFeatureFlag(cmd *Command) (plans.FeatureKey, error) {
	key := plans.FeatureKey(cmd.Flags.Lookup("feature").Value.String())
	if key == "" {
		return "", fmt.Errorf("--feature is required")
	}
	if !key.IsKnown() {
		return "", fmt.Errorf("unknown feature: %s", key)
	}
	return key, nil
}

func runCheck(ctx context.Context, args []string) error {
	cmd := newCheckCommand()
	server, subject, asJSON, err := parseSubjectFlags(cmd, args)
	if err != nil {
		return err
	}
	key, err := requireFeatureFlag(cmd)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/v1/subjects/%s/features/%s", server, url.PathEscape(subject), key)
	if usage, _ := strconv.ParseInt(cmd.Flags.Lookup("usage").Value.String(), 10, 64); usage >= 0 {
		endpoint += "?usage=" + strconv.FormatInt(usage, 10)
	}

	var resp api.FeatureCheckResponse
	if err := call(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return err
	}
	if asJSON {
		return printJSON(resp)
	}

	verdict := "allowed"
	if !resp.Allowed {
		verdict = "denied"
	}
	limit := strconv.FormatInt(resp.Limit, 10)
	if resp.Unlimited {
		limit = "unlimited"
	}
	fmt.Fprintf(stdout, "%s on %s: %s (usage %d, limit %s)\n", resp.Feature, resp.Tier, verdict, resp.Usage, limit)
	fmt.Fprintln(stdout, resp.Message)
	return nil
}

func runChangePlan(ctx context.Context, args []string) error {
	cmd := newChangePlanCommand()
	server, subject, asJSON, err := parseSubjectFlags(cmd, args)
	if err != nil {
		return err
	}
	plan := cmd.Flags.Lookup("plan").Value.String()
	if !plans.PlanTier(plan).IsValid() {
		return fmt.Errorf("invalid plan %q (must be free, basic, pro, or enterprise)", plan)
	}

	endpoint := fmt.Sprintf("%s/api/v1/subjects/%s/plan", server, url.PathEscape(subject))
	var resp api.ChangePlanResponse
	if err := call(ctx, http.MethodPut, endpoint, api.ChangePlanRequest{Plan: plan}, &resp); err != nil {
		return err
	}
	if asJSON {
		return printJSON(resp)
	}

	fmt.Fprintf(stdout, "%s: %s -> %s\n", resp.SubjectID, resp.From, resp.To)
	return nil
}

func runConsume(ctx context.Context, args []string) error {
	cmd := newConsumeCommand()
	server, subject, asJSON, err := parseSubjectFlags(cmd, args)
	if err != nil {
		return err
	}
	key, err := requireFeatureFlag(cmd)
	if err != nil {
		return err
	}
	units, err := strconv.ParseInt(cmd.Flags.Lookup("units").Value.String(), 10, 64)
	if err != nil || units <= 0 {
		return fmt.Errorf("--units must be a positive integer")
	}

	endpoint := fmt.Sprintf("%s/api/v1/subjects/%s/usage/%s", server, url.PathEscape(subject), key)
	var resp api.ConsumeResponse
	if err := call(ctx, http.MethodPost, endpoint, api.ConsumeRequest{Units: units}, &resp); err != nil {
		return err
	}
	if asJSON {
		return printJSON(resp)
	}

	if resp.Unlimited {
		fmt.Fprintf(stdout, "%s: %d used (unlimited)\n", resp.Feature, resp.Used)
		return nil
	}
	fmt.Fprintf(stdout, "%s: %d used, %d remaining\n", resp.Feature, resp.Used, resp.Remaining)
	return nil
}
