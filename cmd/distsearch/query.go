package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/distsearch/internal/domain/params"
)

var (
	queryParams []string
	queryIndent bool
)

var queryCmd = &cobra.Command{
	Use:   "query [q]",
	Short: "Run one select request against the configured shards",
	Long: `Load the configured shards in process, run a single distributed select
request and print the JSON response.

Parameters use name=value form and may repeat.

Examples:
  distsearch query 'cat:x OR cat:y' -p rows=5 -p sort='price asc'
  distsearch query -p facet=true -p facet.field=cat -p rows=0`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVarP(&queryParams, "param", "p", nil, "Request parameter as name=value (repeatable)")
	queryCmd.Flags().BoolVar(&queryIndent, "indent", true, "Indent the JSON response")
	rootCmd.AddCommand(queryCmd)
}

// parseParamFlags turns name=value flags into request params.
func parseParamFlags(q string, flags []string) (*params.Params, error) {
	v := url.Values{}
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q must be name=value", f)
		}
		v.Add(name, value)
	}
	p := params.FromValues(v)
	if q != "" {
		p.Set(params.Q, q)
	}
	return p, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	var q string
	if len(args) == 1 {
		q = args[0]
	}
	p, err := parseParamFlags(q, queryParams)
	if err != nil {
		return err
	}
	if queryIndent && !p.Has("indent") {
		p.Set("indent", "true")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// the one-shot query never talks to the response cache
	cfg.Cache.Enabled = false

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	body, err := a.search.Select(ctx, p)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return err //nolint:wrapcheck // stdout write
}
