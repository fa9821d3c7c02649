package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/activity-planner/internal/recurrence"
)

type expandOptions struct {
	rulePath string
	start    string
	end      string
	timezone string
	asJSON   bool
}

func (o *expandOptions) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.rulePath, "rule", "", "Path to a recurrence rule JSON file, or - for stdin")
	fs.StringVar(&o.start, "start", "", "First occurrence start (RFC 3339)")
	fs.StringVar(&o.end, "end", "", "First occurrence end (RFC 3339)")
	fs.StringVar(&o.timezone, "timezone", "Australia/Melbourne", "IANA zone the rule repeats in")
	fs.BoolVar(&o.asJSON, "json", false, "Print the expansion as JSON")
}

func newExpandCmd() *cobra.Command {
	opts := &expandOptions{}

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the occurrences produced by a recurrence rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpand(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	opts.bind(cmd.Flags())
	_ = cmd.MarkFlagRequired("rule")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func runExpand(stdin io.Reader, out io.Writer, opts *expandOptions) error {
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	start, err := time.Parse(time.RFC3339, opts.start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, opts.end)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}

	rule, err := readRule(stdin, opts.rulePath)
	if err != nil {
		return err
	}

	expansion, err := recurrence.Expand(rule, start.In(loc), end.In(loc))
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(expansion)
	}

	fmt.Fprintln(out, recurrence.Describe(rule))
	for _, line := range expansion.Readable {
		fmt.Fprintf(out, "  %s\n", line)
	}
	return nil
}

func readRule(stdin io.Reader, path string) (recurrence.Rule, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return recurrence.Rule{}, fmt.Errorf("open rule: %w", err)
		}
		defer f.Close()
		r = f
	}

	var rule recurrence.Rule
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rule); err != nil {
		return recurrence.Rule{}, fmt.Errorf("decode rule: %w", err)
	}
	return rule, nil
}
