package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// stdout receives command output
var stdout io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "repwatch-cli",
		Description: "repwatch - plan and entitlement CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("repwatch-cli", flag.ExitOnError),
	}

	// Add subcommands
	root.Subcommands["plans"] = newPlansCommand()
	root.Subcommands["validate"] = newValidateCommand()
	root.Subcommands["check"] = newCheckCommand()
	root.Subcommands["change-plan"] = newChangePlanCommand()
	root.Subcommands["consume"] = newConsumeCommand()

	return root
}

// Execute runs the command with the process arguments. Cancelling ctx
// aborts any in-flight server request.
func (c *Command) Execute(ctx context.Context) error {
	return c.ExecuteArgs(ctx, os.Args[1:])
}

// ExecuteArgs runs the command with explicit arguments
func (c *Command) ExecuteArgs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch args[0] {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(stdout, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(stdout, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
