package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleenDhar/dealsense/internal/config"
)

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/projects")
		if err != nil {
			return err
		}

		var projects []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &projects); err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("No projects found.")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, p.ID[:8]), p.CreatedAt, p.Name)
		}
		return nil
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/projects", map[string]string{
			"name":          args[0],
			"system_prompt": prompt,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created project %s (%s)", args[0], result["id"])
		return nil
	},
}

func init() {
	projectsCreateCmd.Flags().String("prompt", "", "project system prompt")
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage project documents",
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file to a project",
	Long: `Upload a file to a project and queue it for embedding.

Examples:
  dealsense docs upload ./term-sheet.pdf --project "Acme Deal"
  dealsense docs upload ./notes.txt --project "Acme Deal" --name "Meeting notes"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		name, _ := cmd.Flags().GetString("name")
		if project == "" {
			return fmt.Errorf("--project is required")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		if name == "" {
			name = filepath.Base(args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		// Base64 keeps binary formats (PDF) intact in the JSON body.
		resp, err := client.post(cmd.Context(), "/api/documents", map[string]any{
			"projectId":     project,
			"name":          name,
			"content":       base64.StdEncoding.EncodeToString(data),
			"contentBase64": true,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s (%s)", name, result["id"])
		return nil
	},
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			return fmt.Errorf("--project is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/documents?projectId="+url.QueryEscape(project))
		if err != nil {
			return err
		}

		var docs []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range docs {
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, d.ID[:8]), d.CreatedAt, d.Name)
		}
		return nil
	},
}

var docsBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Queue embedding for documents that have no chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/admin/backfill", nil)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued %d documents", result["queued"])
		return nil
	},
}

func init() {
	docsUploadCmd.Flags().String("project", "", "project name or ID")
	docsUploadCmd.Flags().String("name", "", "document name (default: file name)")
	docsListCmd.Flags().String("project", "", "project name or ID")
	docsCmd.AddCommand(docsUploadCmd)
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsBackfillCmd)
}

// --- chats ---

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Inspect chat sessions",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		project, _ := cmd.Flags().GetString("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/chats?limit=%d", limit)
		if project != "" {
			path += "&projectId=" + url.QueryEscape(project)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var chats []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &chats); err != nil {
			return err
		}

		if len(chats) == 0 {
			fmt.Println("No chats found.")
			return nil
		}
		for _, c := range chats {
			title := c.Title
			if len(title) > 80 {
				title = title[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, c.ID[:8]), c.CreatedAt, title)
		}
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a chat's history as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/chats/"+url.PathEscape(args[0])+"/messages")
		if err != nil {
			return err
		}

		var turns any
		if err := decodeJSON(resp, &turns); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(turns)
	},
}

func init() {
	chatsListCmd.Flags().Int("limit", 20, "maximum number of chats to list")
	chatsListCmd.Flags().String("project", "", "filter by project name or ID")
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsShowCmd)
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
			if strings.Contains(err.Error(), "unknown config key") {
				return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
			}
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
