package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/recall/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Submit a document for ingestion",
	Long: `Submit a document for ingestion.

Examples:
  recall ingest --text "Meeting notes from Monday" --title "Notes"
  recall ingest --url https://example.com/article
  recall ingest --file ./report.pdf
  recall ingest --file ./diagram.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		user, _ := cmd.Flags().GetString("user")
		tag, _ := cmd.Flags().GetString("tag")

		if text == "" && url == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]any{
			"user_id":       user,
			"container_tag": tag,
		}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case url != "":
			req["type"] = "url"
			req["url"] = url
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			docType, mime := fileDocType(file)
			req["type"] = docType
			if mime != "" {
				req["mime_type"] = mime
			}
			if docType == "pdf" || docType == "image" {
				req["content"] = base64.StdEncoding.EncodeToString(data)
			} else {
				req["content"] = string(data)
			}
			if title == "" {
				req["title"] = filepath.Base(file)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s (job %s)", result["document_id"], result["job_id"])
		return nil
	},
}

// fileDocType maps a file extension to a document type and MIME type.
func fileDocType(path string) (string, string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf", "application/pdf"
	case ".png":
		return "image", "image/png"
	case ".jpg", ".jpeg":
		return "image", "image/jpeg"
	case ".gif":
		return "image", "image/gif"
	case ".webp":
		return "image", "image/webp"
	case ".md", ".markdown":
		return "markdown", "text/markdown"
	case ".html", ".htm":
		return "html", "text/html"
	default:
		return "text", ""
	}
}

func init() {
	ingestCmd.Flags().String("text", "", "inline text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().String("user", "", "user the document belongs to")
	ingestCmd.Flags().String("tag", "", "container tag for scoping")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories and documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		mode, _ := cmd.Flags().GetString("mode")
		user, _ := cmd.Flags().GetString("user")
		rerank, _ := cmd.Flags().GetBool("rerank")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"query":   query,
			"user_id": user,
			"limit":   limit,
			"rerank":  rerank,
		}
		if mode != "" {
			req["mode"] = mode
		}

		resp, err := client.post(cmd.Context(), "/search", req)
		if err != nil {
			return err
		}

		var results struct {
			Memories []searchItem `json:"memories"`
			Chunks   []searchItem `json:"chunks"`
			Profile  *struct {
				Static  []string `json:"static"`
				Dynamic []string `json:"dynamic"`
			} `json:"profile"`
			Total    int   `json:"total"`
			TimingMS int64 `json:"timing_ms"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if results.Total == 0 {
			fmt.Println("No results found.")
			return nil
		}

		printItems("Memories", results.Memories)
		printItems("Chunks", results.Chunks)
		if results.Profile != nil && (len(results.Profile.Static) > 0 || len(results.Profile.Dynamic) > 0) {
			fmt.Printf("\n%s\n", colorize(colorBold, "Profile"))
			for _, f := range results.Profile.Static {
				fmt.Printf("  • %s\n", f)
			}
			for _, f := range results.Profile.Dynamic {
				fmt.Printf("  ◦ %s\n", f)
			}
		}
		fmt.Printf("\n%d results in %dms\n", results.Total, results.TimingMS)
		return nil
	},
}

type searchItem struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

func printItems(label string, items []searchItem) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s\n", colorize(colorBold, label))
	for _, it := range items {
		text := it.Content
		if len(text) > 300 {
			text = text[:300] + "..."
		}
		fmt.Printf("  %s [%.3f] %s\n", colorize(colorCyan, it.ID[:8]), it.Score, text)
	}
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().String("mode", "", "search mode: vector, keyword, or hybrid")
	searchCmd.Flags().String("user", "", "user to search as")
	searchCmd.Flags().Bool("rerank", false, "rerank results with the scoring model")
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect ingestion jobs",
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job's status, step history and metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+args[0])
		if err != nil {
			return err
		}

		var job any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	jobsCmd.AddCommand(jobsShowCmd)
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage free-standing memories",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a memory (indexed immediately)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")
		user, _ := cmd.Flags().GetString("user")
		tag, _ := cmd.Flags().GetString("tag")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/memories", map[string]any{
			"content":       content,
			"user_id":       user,
			"container_tag": tag,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Memory %s indexed", result["id"])
		return nil
	},
}

func init() {
	memoryAddCmd.Flags().String("user", "", "user the memory belongs to")
	memoryAddCmd.Flags().String("tag", "", "container tag for scoping")
	memoryCmd.AddCommand(memoryAddCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user profile facts",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's profile facts as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile/"+args[0])
		if err != nil {
			return err
		}

		var facts any
		if err := decodeJSON(resp, &facts); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(facts)
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add <user> <fact>",
	Short: "Add a profile fact",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		fact := strings.Join(args[1:], " ")
		kind, _ := cmd.Flags().GetString("kind")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/profile/"+user+"/facts", map[string]string{
			"kind": kind,
			"fact": fact,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Fact %s added", result["id"])
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <fact-id>",
	Short: "Remove a profile fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/profile/facts/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Fact removed")
		return nil
	},
}

func init() {
	profileAddCmd.Flags().String("kind", "static", "fact kind: static or dynamic")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileRemoveCmd)
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
