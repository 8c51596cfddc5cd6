package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type tagEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTagsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List known tags with their usage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := ctx.client().get(cmd.Context(), "/tags", nil, &raw); err != nil {
				return err
			}
			if ctx.json {
				return writeRaw(cmd, raw)
			}
			var resp struct {
				Tags []tagEntry `json:"tags"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return err
			}
			if len(resp.Tags) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tags")
				return nil
			}
			rows := make([][]string, len(resp.Tags))
			for i, t := range resp.Tags {
				rows[i] = []string{t.Name, strconv.Itoa(t.Count)}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Tag", "Recipes"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var original string
	cmd := &cobra.Command{
		Use:   "check <title>",
		Short: "Check whether a title is already taken",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Exists bool `json:"exists"`
			}
			form := url.Values{"title": {strings.Join(args, " ")}, "original_slug": {original}}
			if err := ctx.client().postForm(cmd.Context(), "/check-title", form, &resp); err != nil {
				return err
			}
			if resp.Exists {
				fmt.Fprintln(cmd.OutOrStdout(), "taken")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "available")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&original, "original", "", "Slug of the record being edited")
	return cmd
}

func newStageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <url>",
		Short: "Scrape a recipe page without saving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := ctx.client().postForm(cmd.Context(), "/stage", url.Values{"url": {args[0]}}, &raw); err != nil {
				return err
			}
			return writeRaw(cmd, raw)
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <slug>",
		Short: "Print a stored recipe in editor form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := ctx.client().get(cmd.Context(), "/recipes/"+url.PathEscape(args[0]), nil, &raw); err != nil {
				return err
			}
			return writeRaw(cmd, raw)
		},
	}
}

type bulkItem struct {
	ID           int    `json:"id"`
	URL          string `json:"url"`
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Title        string `json:"title"`
	ProposedSlug string `json:"proposed_slug"`
	Duplicate    bool   `json:"is_duplicate"`
	Tags         string `json:"tags"`
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	var (
		file   string
		commit bool
	)
	cmd := &cobra.Command{
		Use:   "import [url...]",
		Short: "Bulk-stage recipe URLs and optionally commit them",
		RunE: func(cmd *cobra.Command, args []string) error {
			lines := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readLines(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				lines = append(lines, fromFile...)
			}
			if len(lines) == 0 {
				return fmt.Errorf("no urls given")
			}

			client := ctx.client()
			var staged struct {
				BatchID string     `json:"batch_id"`
				Results []bulkItem `json:"results"`
			}
			if err := client.postForm(cmd.Context(), "/bulk", url.Values{"urls": {strings.Join(lines, "\n")}}, &staged); err != nil {
				return err
			}

			rows := make([][]string, len(staged.Results))
			for i, it := range staged.Results {
				status := "ok"
				switch {
				case !it.Success:
					status = "failed: " + it.Message
				case it.Duplicate:
					status = "duplicate"
				}
				rows[i] = []string{strconv.Itoa(it.ID), it.URL, it.ProposedSlug, status}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch %s\n", staged.BatchID)
			fmt.Fprintln(out, renderTable([]string{"#", "URL", "Slug", "Status"}, rows, []columnAlignment{alignRight}))

			if !commit {
				return nil
			}
			var result struct {
				Saved   []string `json:"saved"`
				Skipped int      `json:"skipped"`
				Failed  []struct {
					ID      int    `json:"id"`
					Message string `json:"message"`
				} `json:"failed"`
			}
			payload := map[string]any{"batch_id": staged.BatchID, "items": []any{}}
			if err := client.postJSON(cmd.Context(), "/bulk-commit", payload, &result); err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved %d, skipped %d, failed %d\n", len(result.Saved), result.Skipped, len(result.Failed))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read URLs from a file, one per line (- for stdin)")
	cmd.Flags().BoolVar(&commit, "commit", false, "Commit the batch right after staging")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <slug>",
		Short: "Delete a stored recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Ready bool `json:"ready"`
			}
			if err := ctx.client().postForm(cmd.Context(), "/delete", url.Values{"slug": {args[0]}}, &resp); err != nil {
				return err
			}
			msg := "Deleted " + args[0]
			if !resp.Ready {
				msg += " (site not yet updated)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

type historyEntry struct {
	Action    string    `json:"action"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit int
		slug  string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent saves, deletes and bulk commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if slug != "" {
				q.Set("slug", slug)
			}
			var raw json.RawMessage
			if err := ctx.client().get(cmd.Context(), "/history", q, &raw); err != nil {
				return err
			}
			if ctx.json {
				return writeRaw(cmd, raw)
			}
			var resp struct {
				Items []historyEntry `json:"items"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return err
			}
			rows := make([][]string, len(resp.Items))
			for i, e := range resp.Items {
				rows[i] = []string{e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Action, e.Slug, e.Detail}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"When", "Action", "Slug", "Detail"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries")
	cmd.Flags().StringVar(&slug, "slug", "", "Only entries for this slug")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream recipe change events",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := ctx.client().wsURL()
			if err != nil {
				return err
			}
			ws, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), target, nil)
			if err != nil {
				return fmt.Errorf("connect %s: %w", target, err)
			}
			defer ws.Close()

			go func() {
				<-cmd.Context().Done()
				_ = ws.Close()
			}()

			out := cmd.OutOrStdout()
			for {
				_, msg, err := ws.ReadMessage()
				if err != nil {
					if cmd.Context().Err() != nil {
						return cmd.Context().Err()
					}
					return err
				}
				fmt.Fprintln(out, strings.TrimSpace(string(msg)))
			}
		},
	}
}

func writeRaw(cmd *cobra.Command, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readLines(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
