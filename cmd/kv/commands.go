package kv

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]...",
		Short: "Reads the values of keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := kvStore.GetMany(cmd.Context(), args)
			results := make([]result, len(args))
			for i, v := range values {
				results[i] = result{Key: args[i], Found: boolPtr(v.Ok)}
				if v.Ok {
					results[i].Value = stringPtr(string(v.Value))
				}
			}
			return report(cmd.OutOrStdout(), results)
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := kvStore.Put(cmd.Context(), args[0], []byte(args[1]))
			return report(cmd.OutOrStdout(), []result{{Key: args[0], Ok: boolPtr(ok)}})
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]...",
		Short: "Checks if keys exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportBools(cmd.OutOrStdout(), args, kvStore.HasMany(cmd.Context(), args))
		},
	}
	missingCmd = &cobra.Command{
		Use:   "missing [key]...",
		Short: "Checks if keys do not exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportBools(cmd.OutOrStdout(), args, kvStore.MissingMany(cmd.Context(), args))
		},
	}
	forgetCmd = &cobra.Command{
		Use:   "forget [key]...",
		Short: "Removes keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportBools(cmd.OutOrStdout(), args, kvStore.ForgetMany(cmd.Context(), args))
		},
	}
	pullCmd = &cobra.Command{
		Use:   "pull [key]...",
		Short: "Reads and removes keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := kvStore.PullMany(cmd.Context(), args)
			results := make([]result, len(args))
			for i, v := range values {
				results[i] = result{Key: args[i], Found: boolPtr(v.Ok)}
				if v.Ok {
					results[i].Value = stringPtr(string(v.Value))
				}
			}
			return report(cmd.OutOrStdout(), results)
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Lists all keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys := kvStore.Keys(cmd.Context())
			results := make([]result, len(keys))
			for i, k := range keys {
				results[i] = result{Key: k}
			}
			return report(cmd.OutOrStdout(), results)
		},
	}
	allCmd = &cobra.Command{
		Use:   "all",
		Short: "Lists all entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := kvStore.All(cmd.Context())
			results := make([]result, len(entries))
			for i, e := range entries {
				results[i] = result{Key: e.Key, Value: stringPtr(string(e.Value))}
			}
			return report(cmd.OutOrStdout(), results)
		},
	}
	countCmd = &cobra.Command{
		Use:   "count",
		Short: "Prints the number of entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := kvStore.Count(cmd.Context())
			return report(cmd.OutOrStdout(), []result{{Count: &n}})
		},
	}
	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Removes all entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := kvStore.FlushDetailed(cmd.Context())
			return report(cmd.OutOrStdout(), []result{{Ok: boolPtr(r.Erased), Empty: boolPtr(r.Empty)}})
		},
	}
)

// result is one line of output, unset fields are omitted.
// Value is a pointer so that stored empty values are still printed.
type result struct {
	Key   string  `json:"key,omitempty" yaml:"key,omitempty"`
	Value *string `json:"value,omitempty" yaml:"value,omitempty"`
	Found *bool   `json:"found,omitempty" yaml:"found,omitempty"`
	Ok    *bool   `json:"ok,omitempty" yaml:"ok,omitempty"`
	Empty *bool   `json:"empty,omitempty" yaml:"empty,omitempty"`
	Count *uint64 `json:"count,omitempty" yaml:"count,omitempty"`
}

func (r result) String() string {
	var s string
	field := func(name, value string) {
		if s != "" {
			s += ", "
		}
		s += name + "=" + value
	}

	if r.Key != "" {
		field("key", r.Key)
	}
	if r.Found != nil {
		field("found", fmt.Sprint(*r.Found))
	}
	if r.Value != nil {
		field("value", *r.Value)
	}
	if r.Ok != nil {
		field("ok", fmt.Sprint(*r.Ok))
	}
	if r.Empty != nil {
		field("empty", fmt.Sprint(*r.Empty))
	}
	if r.Count != nil {
		field("count", fmt.Sprint(*r.Count))
	}
	return s
}

func boolPtr(b bool) *bool {
	return &b
}

func stringPtr(s string) *string {
	return &s
}

func reportBools(w io.Writer, keys []string, oks []bool) error {
	results := make([]result, len(keys))
	for i, ok := range oks {
		results[i] = result{Key: keys[i], Ok: boolPtr(ok)}
	}
	return report(w, results)
}

// report writes results in the selected output format and the last collapsed
// error of the store to stderr
func report(w io.Writer, results []result) error {
	if err := kvStore.LastError(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return writeResults(w, viper.GetString("output"), results)
}

func writeResults(w io.Writer, format string, results []result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(results)
	case "text", "":
		for _, r := range results {
			if _, err := fmt.Fprintln(w, r.String()); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid output format %s (expected one of: text, json, yaml)", format)
	}
}
