// tskit — Qt Linguist TS toolkit: batch translation export/apply with AI support.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/packet-tracer-i18n/tskit/batch"
	"github.com/packet-tracer-i18n/tskit/config"
	"github.com/packet-tracer-i18n/tskit/i18n"
	"github.com/packet-tracer-i18n/tskit/settings"
	"github.com/packet-tracer-i18n/tskit/translate"
	"github.com/packet-tracer-i18n/tskit/tsfile"
	"github.com/spf13/cobra"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var rootDir string

// credentialName is the key under which the translation endpoint's
// credentials are stored in the settings store.
const credentialName = "default"

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tskit",
		Short: "Qt Linguist TS toolkit: batch translation export/apply with AI support",
		Long: `tskit — Qt Linguist TS toolkit with batch translation support.

Converts .ts localization templates into JSONL batch-translation
requests, applies returned results back onto the template, and can
translate templates directly against an OpenAI-compatible endpoint.

Commands:
  status      Show template translation statistics
  export      Export unfinished messages as JSONL batch requests
  apply       Apply batch results back onto a template
  translate   Translate a template directly using an AI endpoint
  auth        Manage API key for the translation endpoint

Round trip:
  tskit export app_zh_CN.ts                 # writes requests + manifest
  # ... submit requests, download results ...
  tskit apply app_zh_CN.ts results.jsonl    # updates the template in place`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global persistent flag — inherited by all subcommands
	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Directory containing "+config.FileName)

	root.AddCommand(
		newStatusCmd(),
		newExportCmd(),
		newApplyCmd(),
		newTranslateCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tskit version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}

	return cmd
}

// ---------------------------------------------------------------------------
// shared helpers
// ---------------------------------------------------------------------------

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// loadConfig reads .tskit.yaml from the root directory, exiting on a
// malformed file. A missing file yields defaults.
func loadConfig() *config.File {
	cfg, err := config.Load(rootDir)
	if err != nil {
		logError("Reading %s: %v", filepath.Join(rootDir, config.FileName), err)
		os.Exit(1)
	}
	return cfg
}

// parseTemplate loads a TS template, exiting with a diagnostic on
// parse failure. Nothing is ever written for an unparseable template.
func parseTemplate(path string) *tsfile.File {
	f, err := tsfile.ParseFile(path)
	if err != nil {
		var pe *tsfile.ParseError
		if errors.As(err, &pe) {
			logError("Parsing %s: %v", pe.Path, pe.Err)
		} else {
			logError("%v", err)
		}
		os.Exit(1)
	}
	return f
}

// resolveTemplate picks the template path from the positional argument
// or the configured default.
func resolveTemplate(args []string, cfg *config.File) string {
	if len(args) > 0 {
		return args[0]
	}
	if cfg.Template != "" {
		return cfg.Template
	}
	logError("No template specified. Pass a .ts file or set 'template' in %s", config.FileName)
	os.Exit(1)
	return ""
}

// outputPath picks an output file: an explicit --output flag wins,
// then a trailing positional argument, then the fallback.
func outputPath(flagVal string, flagChanged bool, positional, fallback string) string {
	if flagChanged {
		return flagVal
	}
	if positional != "" {
		return positional
	}
	return fallback
}

// selectionOptions merges config defaults with explicitly set flags.
// A flag the user touched always wins over the config file.
func selectionOptions(cmd *cobra.Command, cfg *config.File, startIndex, maxEntries int, dedup, includeFinished bool) batch.Options {
	opts := batch.Options{
		StartIndex:      cfg.StartIndex,
		Deduplicate:     cfg.Deduplicate,
		IncludeFinished: cfg.IncludeFinished,
		MaxEntries:      cfg.MaxEntries,
	}
	if cmd.Flags().Changed("start-index") {
		opts.StartIndex = startIndex
	}
	if cmd.Flags().Changed("deduplicate") {
		opts.Deduplicate = dedup
	}
	if cmd.Flags().Changed("include-finished") {
		opts.IncludeFinished = includeFinished
	}
	if cmd.Flags().Changed("max-entries") {
		opts.MaxEntries = maxEntries
	}
	return opts
}

// promptOptions merges config defaults with explicitly set flags.
func promptOptions(cmd *cobra.Command, cfg *config.File, contextMode string, maxLocations int) batch.PromptOptions {
	modeStr := cfg.ContextMode
	if cmd.Flags().Changed("context-mode") {
		modeStr = contextMode
	}
	mode, err := batch.ParseContextMode(modeStr)
	if err != nil {
		logError("%v", err)
		os.Exit(1)
	}

	locs := 3
	if cfg.MaxLocations != nil {
		locs = *cfg.MaxLocations
	}
	if cmd.Flags().Changed("max-locations") {
		locs = maxLocations
	}
	return batch.PromptOptions{Mode: mode, MaxLocations: locs}
}

// ---------------------------------------------------------------------------
// status (read-only: template info + translation stats)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [template.ts]",
		Short: "Show template translation statistics",
		Long: `Show translation statistics for a TS template.

Displays the template language, per-context progress, and an estimate
of how many batch requests an export would produce. Does not modify
any files.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			runStatus(resolveTemplate(args, cfg))
		},
	}

	return cmd
}

func runStatus(templatePath string) {
	tsf := parseTemplate(templatePath)

	// Template info header
	fmt.Fprintf(os.Stderr, "\n%sTemplate%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

	absPath, _ := filepath.Abs(templatePath)
	fmt.Fprintf(os.Stderr, "  Path:       %s\n", absPath)

	lang := tsf.Language()
	if lang == "" {
		lang = "none"
	}
	fmt.Fprintf(os.Stderr, "  Language:   %s\n", lang)
	fmt.Fprintf(os.Stderr, "  Contexts:   %d\n", len(tsf.Contexts))

	total, finished, unfinished := tsf.Stats()
	fmt.Fprintf(os.Stderr, "  Messages:   %d\n", total)
	fmt.Fprintln(os.Stderr)

	if total == 0 {
		logInfo("No translatable messages found in %s", templatePath)
		return
	}

	// Per-context statistics
	fmt.Fprintf(os.Stderr, "%sTranslation Statistics%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "\n%-30s %-10s %-10s %-8s\n", "Context", "Finished", "Unfin.", "Percent")
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

	for _, ctx := range tsf.Contexts {
		ctxTotal, ctxFinished := 0, 0
		for _, m := range ctx.Messages {
			if strings.TrimSpace(m.Source) == "" {
				continue
			}
			ctxTotal++
			if m.Finished() {
				ctxFinished++
			}
		}
		if ctxTotal == 0 {
			continue
		}
		percent := ctxFinished * 100 / ctxTotal
		name := ctx.Name
		if len(name) > 28 {
			name = name[:25] + "..."
		}
		fmt.Fprintf(os.Stderr, "%-30s %-10d %-10d %d%%\n", name, ctxFinished, ctxTotal-ctxFinished, percent)
	}

	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	percent := finished * 100 / total
	fmt.Fprintf(os.Stderr, "Total: %d messages, %d finished, %d unfinished (%d%%)\n", total, finished, unfinished, percent)
	fmt.Fprintln(os.Stderr)

	// Export estimate: how much deduplication would save
	units := tsf.Units()
	plain := batch.Plan(units, batch.Options{StartIndex: 1})
	deduped := batch.Plan(units, batch.Options{StartIndex: 1, Deduplicate: true})
	if len(plain) > 0 {
		fmt.Fprintf(os.Stderr, "Batch export: %d requests (%d with --deduplicate)\n", len(plain), len(deduped))
		fmt.Fprintln(os.Stderr)
	}
}

// ---------------------------------------------------------------------------
// export (template → JSONL batch requests)
// ---------------------------------------------------------------------------

func newExportCmd() *cobra.Command {
	var (
		output       string
		model        string
		systemPrompt string
		startIndex   int
		dedup        bool
		includeFin   bool
		contextMode  string
		maxLocations int
		maxEntries   int
		noManifest   bool
	)

	cmd := &cobra.Command{
		Use:   "export [template.ts] [requests.jsonl]",
		Short: "Export unfinished messages as JSONL batch requests",
		Long: `Export unfinished messages from a TS template as one JSONL file of
batch chat-completion requests.

Each request carries a custom_id of the form "request-N", assigned
monotonically from --start-index in selection order. With
--deduplicate, messages sharing the same source text fold into a
single request; the manifest written beside the output records which
template entries each custom_id covers.

Examples:
  # Export with defaults (compact context, start index 1)
  tskit export app_zh_CN.ts

  # Deduplicate and use the full context mode
  tskit export app_zh_CN.ts --deduplicate --context-mode full

  # Pilot batch: first 100 requests only
  tskit export app_zh_CN.ts --max-entries 100`,
		Args: cobra.MaximumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			templatePath := resolveTemplate(args, cfg)

			opts := selectionOptions(cmd, cfg, startIndex, maxEntries, dedup, includeFin)
			popts := promptOptions(cmd, cfg, contextMode, maxLocations)

			m := cfg.Model
			if cmd.Flags().Changed("model") {
				m = model
			}
			if m == "" {
				m = batch.DefaultModel
			}
			sys := cfg.SystemPrompt
			if cmd.Flags().Changed("system-prompt") {
				sys = systemPrompt
			}
			if sys == "" {
				sys = batch.DefaultSystemPrompt
			}

			positional := ""
			if len(args) == 2 {
				positional = args[1]
			}
			out := outputPath(output, cmd.Flags().Changed("output"), positional,
				strings.TrimSuffix(templatePath, ".ts")+".requests.jsonl")

			runExport(templatePath, out, m, sys, opts, popts, !noManifest)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output JSONL path (default: TEMPLATE.requests.jsonl)")
	cmd.Flags().StringVar(&model, "model", "", "Model name for request bodies (default: "+batch.DefaultModel+")")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Override the built-in system prompt")
	cmd.Flags().IntVar(&startIndex, "start-index", 1, "First custom_id ordinal")
	cmd.Flags().BoolVar(&dedup, "deduplicate", false, "Fold duplicate source strings into one request")
	cmd.Flags().BoolVar(&includeFin, "include-finished", false, "Also export already-finished messages")
	cmd.Flags().StringVar(&contextMode, "context-mode", "compact", "Prompt context mode: full, compact, minimal")
	cmd.Flags().IntVar(&maxLocations, "max-locations", 3, "Location references per prompt in compact mode")
	cmd.Flags().IntVar(&maxEntries, "max-entries", 0, "Cap the number of exported requests (0 = no cap)")
	cmd.Flags().BoolVar(&noManifest, "no-manifest", false, "Skip writing the manifest file")

	_ = cmd.RegisterFlagCompletionFunc("context-mode", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"full\tEvery location reference and all comments",
			"compact\tKey metadata, truncated locations",
			"minimal\tSource text only",
		}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runExport(templatePath, output, model, systemPrompt string, opts batch.Options, popts batch.PromptOptions, writeManifest bool) {
	tsf := parseTemplate(templatePath)
	units := tsf.Units()

	plan := batch.Plan(units, opts)
	if len(plan) == 0 {
		logInfo(i18n.T("No unfinished messages to export"))
	}

	records := make([]batch.RequestRecord, 0, len(plan))
	covered := 0
	for _, sel := range plan {
		records = append(records, batch.BuildRequest(sel, model, systemPrompt, popts))
		covered += len(sel.Indices)
	}

	out, err := os.Create(output)
	if err != nil {
		logError("Creating %s: %v", output, err)
		os.Exit(1)
	}
	w := bufio.NewWriter(out)
	if err := batch.WriteRequests(w, records); err != nil {
		out.Close()
		logError("Writing %s: %v", output, err)
		os.Exit(1)
	}
	if err := w.Flush(); err != nil {
		out.Close()
		logError("Writing %s: %v", output, err)
		os.Exit(1)
	}
	if err := out.Close(); err != nil {
		logError("Writing %s: %v", output, err)
		os.Exit(1)
	}

	if writeManifest {
		manifestPath := batch.ManifestPath(output)
		if err := batch.NewManifest(plan, opts).WriteFile(manifestPath); err != nil {
			logError("Writing %s: %v", manifestPath, err)
			os.Exit(1)
		}
		logInfo("Manifest: %s", manifestPath)
	}

	if opts.Deduplicate && covered > len(plan) {
		logInfo("Deduplicated: %d requests cover %d messages", len(plan), covered)
	}
	logSuccess(i18n.N("Wrote %d request", "Wrote %d requests", len(records)), len(records))
	logInfo("Output: %s", output)
}

// ---------------------------------------------------------------------------
// apply (JSONL batch results → template)
// ---------------------------------------------------------------------------

func newApplyCmd() *cobra.Command {
	var (
		output       string
		manifestPath string
		strict       bool
		startIndex   int
		dedup        bool
		includeFin   bool
		maxEntries   int
	)

	cmd := &cobra.Command{
		Use:   "apply TEMPLATE.ts RESULTS.jsonl [OUT.ts]",
		Short: "Apply batch results back onto a template",
		Long: `Apply downloaded batch results onto a TS template.

The custom_id → template-entry mapping is taken from the manifest
written at export time when one is found beside the results file (or
given with --manifest). Without a manifest, the mapping is recomputed
from the selection flags, which must match the flags used at export.

In strict mode the result file must contain exactly the exported
custom_ids, and any malformed record rejects the whole import. The
check runs before the template is touched.

Examples:
  # Apply in place, mapping from the manifest
  tskit apply app_zh_CN.ts results.jsonl

  # Strict round trip, writing to a new file
  tskit apply app_zh_CN.ts results.jsonl app_zh_CN.new.ts --strict

  # No manifest: recompute with the export-time flags
  tskit apply app_zh_CN.ts results.jsonl --deduplicate --start-index 1`,
		Args: cobra.RangeArgs(2, 3),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()

			opts := selectionOptions(cmd, cfg, startIndex, maxEntries, dedup, includeFin)
			strictMode := cfg.Strict
			if cmd.Flags().Changed("strict") {
				strictMode = strict
			}

			positional := ""
			if len(args) == 3 {
				positional = args[2]
			}
			out := outputPath(output, cmd.Flags().Changed("output"), positional, "")

			runApply(args[0], args[1], out, manifestPath, opts, strictMode)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output template path (default: update in place)")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Manifest path (default: found beside the results file)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Require exact custom_id set equality and well-formed records")
	cmd.Flags().IntVar(&startIndex, "start-index", 1, "First custom_id ordinal used at export")
	cmd.Flags().BoolVar(&dedup, "deduplicate", false, "Export used --deduplicate")
	cmd.Flags().BoolVar(&includeFin, "include-finished", false, "Overwrite already-finished messages")
	cmd.Flags().IntVar(&maxEntries, "max-entries", 0, "Export used --max-entries N")

	return cmd
}

func runApply(templatePath, resultsPath, output, manifestPath string, opts batch.Options, strict bool) {
	tsf := parseTemplate(templatePath)
	units := tsf.Units()

	in, err := os.Open(resultsPath)
	if err != nil {
		logError("Opening %s: %v", resultsPath, err)
		os.Exit(1)
	}
	results, recErrs, err := batch.ReadResults(in)
	in.Close()
	if err != nil {
		logError("%v", err)
		os.Exit(1)
	}

	// Prefer the export manifest for the id mapping; fall back to
	// recomputing the selection from the flags.
	plan, includeFinished := resolvePlan(units, resultsPath, manifestPath, opts)

	sum, err := batch.ApplyPlan(units, plan, results, recErrs, includeFinished, strict)
	if err != nil {
		var mismatch *batch.IdentityMismatchError
		if errors.As(err, &mismatch) {
			logError("Strict apply rejected: %v", mismatch)
		} else {
			logError("Apply failed: %v", err)
		}
		os.Exit(1)
	}

	if output == "" {
		output = templatePath
	}
	if err := tsf.WriteFile(output); err != nil {
		logError("Writing %s: %v", output, err)
		os.Exit(1)
	}

	logSuccess(i18n.N("Updated %d message", "Updated %d messages", sum.Updated), sum.Updated)
	if sum.SkippedFinished > 0 {
		logInfo("Skipped %d already-finished", sum.SkippedFinished)
	}
	if sum.Failed > 0 {
		logWarning("Failed records: %d (%s)", sum.Failed, strings.Join(sum.FailedIDs, ", "))
	}
	if sum.Unmatched > 0 {
		logWarning("Unmatched custom_ids: %d", sum.Unmatched)
	}
	if sum.Malformed > 0 {
		logWarning("Malformed result lines: %d", sum.Malformed)
		for _, re := range recErrs {
			logWarning("  %v", re)
		}
	}
	logInfo("Output: %s", output)
}

// resolvePlan loads the selection plan from a manifest when available.
// The manifest's stored options win over the flags because they record
// what the export actually did.
func resolvePlan(units []*tsfile.Unit, resultsPath, manifestPath string, opts batch.Options) ([]*batch.Selection, bool) {
	path := manifestPath
	if path == "" && fileExists(batch.ManifestPath(resultsPath)) {
		path = batch.ManifestPath(resultsPath)
	}

	if path == "" {
		return batch.Plan(units, opts), opts.IncludeFinished
	}

	m, err := batch.LoadManifest(path)
	if err != nil {
		logError("Reading %s: %v", path, err)
		os.Exit(1)
	}
	plan, err := m.Plan(units)
	if err != nil {
		logError("Manifest %s does not match template: %v", path, err)
		os.Exit(1)
	}
	logInfo("Mapping from manifest: %s", path)
	return plan, m.IncludeFinished
}

// ---------------------------------------------------------------------------
// translate (direct streaming translation)
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		output       string
		apiKey       string
		model        string
		baseURL      string
		systemPrompt string
		contextMode  string
		maxLocations int
		limit        int
		maxRetries   int
		backupEvery  int
		timeout      time.Duration
		proxy        string
	)

	cmd := &cobra.Command{
		Use:   "translate [template.ts]",
		Short: "Translate a template directly using an AI endpoint",
		Long: `Translate unfinished messages one at a time against an
OpenAI-compatible chat endpoint, updating the template as it goes.

Progress is checkpointed beside the output file, so an interrupted run
resumes where it left off. The template is saved periodically (see
--backup-interval) and once more at the end.

Examples:
  # Translate with a stored API key
  tskit translate app_zh_CN.ts --base-url https://api.example.com/v1 --model qwen-max

  # Resume an interrupted run (picks up the checkpoint automatically)
  tskit translate app_zh_CN.ts --base-url https://api.example.com/v1 --model qwen-max

  # Trial run: only the first 10 messages
  tskit translate app_zh_CN.ts --base-url http://localhost:11434/v1 --model qwen2.5 --limit 10`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			templatePath := resolveTemplate(args, cfg)

			popts := promptOptions(cmd, cfg, contextMode, maxLocations)

			runTranslate(templatePath, translateArgs{
				output: output, apiKey: apiKey, model: model,
				baseURL: baseURL, systemPrompt: systemPrompt,
				prompt: popts, limit: limit, maxRetries: maxRetries,
				backupEvery: backupEvery, timeout: timeout, proxy: proxy,
				changed: cmd.Flags().Changed,
			}, cfg)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output template path (default: update in place)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (or TSKIT_API_KEY env var, or 'tskit auth login')")
	cmd.Flags().StringVar(&model, "model", "", "Chat model name")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "OpenAI-compatible endpoint base URL")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Override the built-in system prompt")
	cmd.Flags().StringVar(&contextMode, "context-mode", "compact", "Prompt context mode: full, compact, minimal")
	cmd.Flags().IntVar(&maxLocations, "max-locations", 3, "Location references per prompt in compact mode")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many messages (0 = no limit)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "Maximum retries on rate limit (429)")
	cmd.Flags().IntVar(&backupEvery, "backup-interval", 0, "Messages between template saves (default 10)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Request timeout (0 = default 120s)")
	cmd.Flags().StringVar(&proxy, "proxy", "", "HTTP/HTTPS proxy URL")

	return cmd
}

type translateArgs struct {
	output, apiKey, model, baseURL string
	systemPrompt                   string
	prompt                         batch.PromptOptions
	limit, maxRetries, backupEvery int
	timeout                        time.Duration
	proxy                          string
	changed                        func(string) bool
}

func runTranslate(templatePath string, a translateArgs, cfg *config.File) {
	// Resolve API key from flag, environment, or the settings store
	key := a.apiKey
	if key == "" {
		key = os.Getenv("TSKIT_API_KEY")
	}
	if key == "" {
		key = settings.GetAPIKey(credentialName)
	}

	baseURL := cfg.Translate.BaseURL
	if a.changed("base-url") {
		baseURL = a.baseURL
	}
	if baseURL == "" {
		baseURL = settings.GetBaseURL(credentialName)
	}
	if baseURL == "" {
		logError("No endpoint configured. Use --base-url, set translate.base_url in %s, "+
			"or store one with 'tskit auth login --base-url URL'.", config.FileName)
		os.Exit(1)
	}

	model := cfg.Translate.Model
	if a.changed("model") {
		model = a.model
	}
	if model == "" {
		model = batch.DefaultModel
	}

	proxy := cfg.Translate.Proxy
	if a.changed("proxy") {
		proxy = a.proxy
	}
	timeout := cfg.Translate.Timeout
	if a.changed("timeout") {
		timeout = a.timeout
	}
	backupEvery := cfg.Translate.BackupInterval
	if a.changed("backup-interval") {
		backupEvery = a.backupEvery
	}

	systemPrompt := cfg.SystemPrompt
	if a.changed("system-prompt") {
		systemPrompt = a.systemPrompt
	}

	tsf := parseTemplate(templatePath)
	total, finished, unfinished := tsf.Stats()
	logInfo("Template: %s (%d messages, %d finished, %d unfinished)", templatePath, total, finished, unfinished)

	if unfinished == 0 {
		logSuccess("All messages are translated!")
		return
	}

	output := a.output
	if output == "" {
		output = templatePath
	}

	logInfo("Endpoint: %s, Model: %s", baseURL, model)
	if key != "" {
		logInfo("API key: %s", settings.MaskKey(key))
	}

	// Setup signal handling for graceful cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logWarning("Interrupted, saving progress...")
		cancel()
	}()

	report, err := translate.Run(ctx, tsf, output, translate.Options{
		Provider: translate.Provider{
			BaseURL: baseURL,
			APIKey:  key,
			Model:   model,
			Proxy:   proxy,
			Timeout: timeout,
		},
		SystemPrompt:   systemPrompt,
		Prompt:         a.prompt,
		MaxRetries:     a.maxRetries,
		BackupInterval: backupEvery,
		Limit:          a.limit,
		OnProgress: func(done, total int) {
			logInfo("  %d/%d", done, total)
		},
		OnLog: func(format string, args ...any) {
			logInfo(format, args...)
		},
		OnError: func(format string, args ...any) {
			logError(format, args...)
		},
	})
	if err != nil {
		// Run saves the template before returning context.Canceled; any
		// other error means the save may not have happened.
		if errors.Is(err, context.Canceled) {
			logWarning("Translation interrupted, partial progress saved to %s", output)
			os.Exit(0)
		}
		logError("Translation failed: %v", err)
		os.Exit(1)
	}

	if report.Resumed > 0 {
		logInfo("Resumed: %d messages already done in a previous run", report.Resumed)
	}
	if report.Failed > 0 {
		logWarning("Failed: %d messages (rerun to retry them)", report.Failed)
	}
	logSuccess("Translated %d messages → %s", report.Translated, output)
}

// ---------------------------------------------------------------------------
// auth (API key management)
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API key for the translation endpoint",
		Long: `Manage the stored API key for the translation endpoint.

The key is stored under $XDG_DATA_HOME/tskit/ with 0600 permissions.
At translate time the lookup order is:

  1. --api-key flag
  2. TSKIT_API_KEY environment variable
  3. This store

Examples:
  tskit auth login                   Store an API key (prompted)
  tskit auth login --base-url URL    Store key + endpoint together
  tskit auth status                  Show the stored key (masked)
  tskit auth logout                  Remove the stored key`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for the translation endpoint",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "Enter API key: ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				logError("No input received")
				os.Exit(1)
			}
			key := strings.TrimSpace(scanner.Text())
			if key == "" {
				logError("Empty API key")
				os.Exit(1)
			}

			if err := settings.SetAPIKey(credentialName, key, baseURL); err != nil {
				logError("Storing key: %v", err)
				os.Exit(1)
			}
			logSuccess("API key stored (%s) in %s", settings.MaskKey(key), settings.FilePath())
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Endpoint base URL to store with the key")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API key",
		Run: func(cmd *cobra.Command, args []string) {
			if err := settings.Remove(credentialName); err != nil {
				logError("Removing key: %v", err)
				os.Exit(1)
			}
			logSuccess("Credentials removed")
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			key := settings.GetAPIKey(credentialName)
			if key == "" {
				logInfo("No API key stored. Run 'tskit auth login' to add one.")
				return
			}
			fmt.Fprintf(os.Stderr, "  Key:      %s\n", settings.MaskKey(key))
			if u := settings.GetBaseURL(credentialName); u != "" {
				fmt.Fprintf(os.Stderr, "  Endpoint: %s\n", u)
			}
			fmt.Fprintf(os.Stderr, "  Store:    %s\n", settings.FilePath())
		},
	}
}
