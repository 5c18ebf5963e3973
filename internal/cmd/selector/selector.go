package selector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	sel "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/selector"
)

// NewSelectorCommand constructs the `selector` command group.
func NewSelectorCommand() *cobra.Command {
	selectorCmd := &cobra.Command{Use: "selector", Short: "Message filter tools"}
	selectorCmd.AddCommand(newCheckCommand())
	return selectorCmd
}

// newCheckCommand constructs `selector check EXPR`.
func newCheckCommand() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check EXPR",
		Short: "Compile a filter, print its canonical form and optionally evaluate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, _ := cmd.Flags().GetString("lang")
			props, _ := cmd.Flags().GetStringArray("prop")
			payload, _ := cmd.Flags().GetString("payload")

			var exec sel.Executor
			switch strings.ToLower(lang) {
			case "", "sql":
				f, err := sel.Compile(args[0])
				if err != nil {
					return err
				}
				if f == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "empty filter: matches every message")
					return nil
				}
				exec = f
			case "cel":
				f, err := sel.CompileCEL(args[0])
				if err != nil {
					return err
				}
				exec = f
			default:
				return fmt.Errorf("unknown --lang %q; use sql|cel", lang)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "canonical: %s\n", exec)
			fmt.Fprintf(out, "hash: %016x\n", exec.Hash())
			if len(props) == 0 && payload == "" {
				return nil
			}
			m, err := parseProps(props)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "match: %t\n", exec.Evaluate(sel.MapResolver{Props: m, Body: []byte(payload)}))
			return nil
		},
	}
	checkCmd.Flags().String("lang", "sql", "Filter language: sql|cel")
	checkCmd.Flags().StringArray("prop", nil, "Message property as key=value (repeatable); numbers and true/false are typed")
	checkCmd.Flags().String("payload", "", "Message payload seen by PARSER('json', ...)")
	return checkCmd
}

// parseProps types each value the way a client library would send it.
func parseProps(kvs []string) (map[string]any, error) {
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --prop %q; use key=value", kv)
		}
		out[k] = typed(v)
	}
	return out, nil
}

func typed(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
