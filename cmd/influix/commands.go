package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/influix/influix/internal/api"
	"github.com/influix/influix/internal/config"
	"github.com/influix/influix/internal/extract"
	"github.com/influix/influix/internal/inference"
	"github.com/influix/influix/internal/prompts"
)

// readInput returns the text to analyze from --file or the positional
// arguments.
func readInput(args []string, file string) (string, error) {
	if file != "" {
		return extract.File(file)
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", errors.New("text argument or --file is required")
	}
	return text, nil
}

func parseMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid --metadata JSON: %w", err)
	}
	return m, nil
}

// localEngine loads the config and builds an engine that calls the model
// directly, without a running server.
func localEngine(ctx context.Context) (*inference.Engine, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	setupLogging("warn")
	if err := cfg.Validate(); err != nil {
		return nil, cfg, err
	}
	engine, err := newEngine(ctx, cfg)
	return engine, cfg, err
}

func printOutcome(o inference.Outcome) error {
	if !o.OK() {
		printError("analysis failed (%s)", o.Failure.Reason)
		if kind := o.ViolationKind(); kind != "" {
			printStatus("Violation", "%s", kind)
		}
		return o.Failure
	}
	if err := printJSON(os.Stdout, o.Result); err != nil {
		return err
	}
	printStatus("Template", "%s v%d", o.Template.ID, o.Template.Version)
	printStatus("Latency", "%dms (%d attempt(s))", o.LatencyMs, o.Attempts)
	if o.Usage != nil {
		printStatus("Tokens", "%d prompt + %d completion", o.Usage.PromptTokens, o.Usage.CompletionTokens)
	}
	return nil
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text]",
	Short: "Analyze text or a file and print the insight",
	Long: `Analyze content directly against the configured model. No server is needed.

Examples:
  influix analyze "Stop scrolling. Here is the habit that changed my mornings."
  influix analyze --file ./transcript.txt --metadata '{"platform":"tiktok"}'
  influix analyze --file ./script.pdf --template hook-detection`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		template, _ := cmd.Flags().GetString("template")
		metaStr, _ := cmd.Flags().GetString("metadata")

		text, err := readInput(args, file)
		if err != nil {
			return err
		}
		if n := len([]rune(text)); n > api.MaxAnalysisLength {
			return fmt.Errorf("content is %d characters, limit is %d", n, api.MaxAnalysisLength)
		}
		metadata, err := parseMetadata(metaStr)
		if err != nil {
			return err
		}

		engine, cfg, err := localEngine(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Analysis.Timeout)
		defer cancel()

		printStep("Analyzing with %s (%s)...", cfg.Model.DefaultModel, template)
		return printOutcome(engine.Run(ctx, template, text, metadata))
	},
}

func init() {
	analyzeCmd.Flags().String("file", "", "text or PDF file to analyze")
	analyzeCmd.Flags().String("template", inference.DefaultTemplate, "prompt template id")
	analyzeCmd.Flags().String("metadata", "", "extra context as a JSON object")
}

// --- compare ---

var compareCmd = &cobra.Command{
	Use:   "compare [text-a] [text-b]",
	Short: "Compare two pieces of content",
	Long: `Compare two pieces of content and explain which performs better and why.

Examples:
  influix compare "Hook A ..." "Hook B ..."
  influix compare --file-a ./a.txt --file-b ./b.pdf`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileA, _ := cmd.Flags().GetString("file-a")
		fileB, _ := cmd.Flags().GetString("file-b")

		a, b, err := compareInputs(args, fileA, fileB)
		if err != nil {
			return err
		}

		engine, cfg, err := localEngine(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Analysis.Timeout)
		defer cancel()

		printStep("Comparing with %s...", cfg.Model.DefaultModel)
		return printOutcome(engine.Compare(ctx, a, b, nil))
	},
}

func compareInputs(args []string, fileA, fileB string) (string, string, error) {
	var inputs []string
	for _, f := range []string{fileA, fileB} {
		if f == "" {
			continue
		}
		text, err := extract.File(f)
		if err != nil {
			return "", "", err
		}
		inputs = append(inputs, text)
	}
	inputs = append(inputs, args...)
	if len(inputs) != 2 {
		return "", "", fmt.Errorf("exactly two contents are required, got %d", len(inputs))
	}
	return inputs[0], inputs[1], nil
}

func init() {
	compareCmd.Flags().String("file-a", "", "first content file")
	compareCmd.Flags().String("file-b", "", "second content file")
}

// --- prompts ---

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect the prompt catalog",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := prompts.Default()
		for _, t := range catalog.List() {
			fmt.Printf("%-20s v%-3d %-18s %s\n",
				colorize(colorCyan, t.ID), t.Version, t.Contract, t.Name)
		}
		return nil
	},
}

var promptsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a prompt template and its output schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt("version")
		catalog := prompts.Default()

		var t prompts.Template
		var err error
		if version > 0 {
			t, err = catalog.GetVersion(args[0], version)
		} else {
			t, err = catalog.Get(args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s %s (v%d, versions %v)\n\n", colorize(colorBold, t.ID), t.Name, t.Version, catalog.Versions(t.ID))
		fmt.Printf("%s\n%s\n\n", colorize(colorBold, "System intent:"), t.SystemIntent)
		fmt.Printf("%s\n%s\n\n", colorize(colorBold, "Instruction:"), t.AnalysisInstruction)
		fmt.Printf("%s\n%s\n", colorize(colorBold, "Output schema:"), t.OutputSchemaDescription)
		return nil
	},
}

func init() {
	promptsShowCmd.Flags().Int("version", 0, "show a specific version (default latest)")
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsShowCmd)
}

// --- content ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage stored content",
}

type contentItem struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Platform       string          `json:"platform"`
	SourceType     string          `json:"source_type"`
	Status         string          `json:"status"`
	LastAnalyzedAt *string         `json:"last_analyzed_at"`
	CreatedAt      string          `json:"created_at"`
	Metadata       json.RawMessage `json:"metadata"`
}

// contentRequestFromFlags builds the create request for `content add`.
func contentRequestFromFlags(cmd *cobra.Command) (api.CreateContentRequest, error) {
	title, _ := cmd.Flags().GetString("title")
	platform, _ := cmd.Flags().GetString("platform")
	sourceType, _ := cmd.Flags().GetString("source-type")
	sourceURL, _ := cmd.Flags().GetString("url")
	transcript, _ := cmd.Flags().GetString("transcript")
	transcriptFile, _ := cmd.Flags().GetString("transcript-file")
	metaStr, _ := cmd.Flags().GetString("metadata")

	if title == "" {
		return api.CreateContentRequest{}, errors.New("--title is required")
	}
	metadata, err := parseMetadata(metaStr)
	if err != nil {
		return api.CreateContentRequest{}, err
	}
	if transcriptFile != "" {
		if transcript, err = extract.File(transcriptFile); err != nil {
			return api.CreateContentRequest{}, err
		}
	}
	if transcript != "" {
		if metadata == nil {
			metadata = make(map[string]any)
		}
		metadata["transcript"] = transcript
	}

	return api.CreateContentRequest{
		Title:      title,
		SourceURL:  sourceURL,
		SourceType: sourceType,
		Platform:   platform,
		Metadata:   metadata,
	}, nil
}

var contentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a content item",
	Long: `Add a content item for later analysis.

Examples:
  influix content add --title "Morning routine" --platform tiktok --source-type video --transcript-file ./t.txt
  influix content add --title "Launch thread" --platform twitter --url https://x.com/a/status/1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := contentRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		analyze, _ := cmd.Flags().GetBool("analyze")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/content", req)
		if err != nil {
			return err
		}
		var created contentItem
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Created content %s", created.ID)

		if analyze {
			return requestAnalysis(cmd.Context(), client, created.ID, "", false)
		}
		return nil
	},
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List content items",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		q.Set("offset", fmt.Sprint(offset))
		resp, err := client.get(cmd.Context(), "/content?"+q.Encode())
		if err != nil {
			return err
		}
		var page struct {
			Content []contentItem `json:"content"`
		}
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		if len(page.Content) == 0 {
			fmt.Println("No content found.")
			return nil
		}
		for _, c := range page.Content {
			title := c.Title
			if len([]rune(title)) > 60 {
				title = string([]rune(title)[:60]) + "..."
			}
			fmt.Printf("%s  %-10s %-9s %s\n",
				colorize(colorCyan, shortID(c.ID)),
				c.Platform,
				colorize(statusColor(c.Status), c.Status),
				title,
			)
		}
		return nil
	},
}

var contentShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showJSON(cmd.Context(), "/content/"+url.PathEscape(args[0]))
	},
}

var contentDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a content item and its insights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/content/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted content %s", args[0])
		return nil
	},
}

var contentAnalyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Generate an insight for a content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		template, _ := cmd.Flags().GetString("template")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return requestAnalysis(cmd.Context(), client, args[0], template, wait)
	},
}

type insightItem struct {
	ID            string          `json:"id"`
	ContentID     string          `json:"content_id"`
	PromptID      string          `json:"prompt_id"`
	PromptVersion int             `json:"prompt_version"`
	Status        string          `json:"status"`
	Confidence    float64         `json:"confidence"`
	LatencyMs     int64           `json:"latency_ms"`
	Analysis      json.RawMessage `json:"analysis"`
	CreatedAt     string          `json:"created_at"`
}

func requestAnalysis(ctx context.Context, client *apiClient, contentID, template string, wait bool) error {
	resp, err := client.post(ctx, "/content/"+url.PathEscape(contentID)+"/analyze", api.AnalyzeContentRequest{
		Template: template,
		Wait:     wait,
	})
	if err != nil {
		return err
	}
	var ins insightItem
	if err := decodeJSON(resp, &ins); err != nil {
		return err
	}

	switch ins.Status {
	case "complete":
		printSuccess("Insight %s complete (%dms)", ins.ID, ins.LatencyMs)
		var analysis any
		if err := json.Unmarshal(ins.Analysis, &analysis); err == nil {
			return printJSON(os.Stdout, analysis)
		}
	case "failed":
		printError("Insight %s failed", ins.ID)
		return fmt.Errorf("analysis of %s failed", contentID)
	default:
		printSuccess("Queued insight %s", ins.ID)
	}
	return nil
}

func init() {
	contentAddCmd.Flags().String("title", "", "content title (required)")
	contentAddCmd.Flags().String("platform", "other", "youtube, tiktok, instagram, twitter, linkedin or other")
	contentAddCmd.Flags().String("source-type", "text", "video, image, text, audio or mixed")
	contentAddCmd.Flags().String("url", "", "source URL")
	contentAddCmd.Flags().String("transcript", "", "transcript or caption text")
	contentAddCmd.Flags().String("transcript-file", "", "read the transcript from a text or PDF file")
	contentAddCmd.Flags().String("metadata", "", "extra metadata as a JSON object")
	contentAddCmd.Flags().Bool("analyze", false, "queue an analysis right after adding")

	contentListCmd.Flags().Int("limit", 20, "maximum number of items")
	contentListCmd.Flags().Int("offset", 0, "items to skip")

	contentAnalyzeCmd.Flags().String("template", "", "prompt template id (default content-analysis)")
	contentAnalyzeCmd.Flags().Bool("wait", false, "wait for the analysis to finish")

	contentCmd.AddCommand(contentAddCmd)
	contentCmd.AddCommand(contentListCmd)
	contentCmd.AddCommand(contentShowCmd)
	contentCmd.AddCommand(contentDeleteCmd)
	contentCmd.AddCommand(contentAnalyzeCmd)
}

// --- insights ---

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Inspect generated insights",
}

var insightsListCmd = &cobra.Command{
	Use:   "list <content-id>",
	Short: "List the insights of a content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/content/"+url.PathEscape(args[0])+"/insights")
		if err != nil {
			return err
		}
		var list struct {
			Insights []insightItem `json:"insights"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list.Insights) == 0 {
			fmt.Println("No insights found.")
			return nil
		}
		for _, ins := range list.Insights {
			fmt.Printf("%s  %-10s %s v%d  %s\n",
				colorize(colorCyan, shortID(ins.ID)),
				colorize(statusColor(ins.Status), ins.Status),
				ins.PromptID, ins.PromptVersion,
				ins.CreatedAt,
			)
		}
		return nil
	},
}

var insightsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an insight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showJSON(cmd.Context(), "/insights/"+url.PathEscape(args[0]))
	},
}

var insightsRegenerateCmd = &cobra.Command{
	Use:   "regenerate <id>",
	Short: "Mark an insight stale and queue a fresh analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/insights/"+url.PathEscape(args[0])+"/regenerate", nil)
		if err != nil {
			return err
		}
		var ins insightItem
		if err := decodeJSON(resp, &ins); err != nil {
			return err
		}
		printSuccess("Queued insight %s (replaces %s)", ins.ID, args[0])
		return nil
	},
}

func init() {
	insightsCmd.AddCommand(insightsListCmd)
	insightsCmd.AddCommand(insightsShowCmd)
	insightsCmd.AddCommand(insightsRegenerateCmd)
}

func showJSON(ctx context.Context, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}
	var v any
	if err := decodeJSON(resp, &v); err != nil {
		return err
	}
	return printJSON(os.Stdout, v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secrets (model.api_key, storage.dsn, api.token) are written to the secrets file.\n\nKeys: " +
		strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
