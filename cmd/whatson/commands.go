package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/whatson/internal/api"
	"github.com/kalambet/whatson/internal/chat"
	"github.com/kalambet/whatson/internal/config"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/ingest"
	"github.com/kalambet/whatson/internal/source"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Push a listing payload through the normalizer",
	Long: `Push an already-fetched listing payload through the normalizer and store the events.

Examples:
  whatson ingest --source tulsa-jazz --url https://tulsajazz.example/events --file ./events.json
  whatson ingest --source civic-center --url https://civic.example/calendar.pdf --file ./calendar.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("source")
		pageURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		contentType, _ := cmd.Flags().GetString("type")
		tier, _ := cmd.Flags().GetString("tier")

		if name == "" || pageURL == "" || file == "" {
			return fmt.Errorf("--source, --url and --file are required")
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		req, err := buildIngestRequest(name, pageURL, file, contentType, data)
		if err != nil {
			return err
		}
		req.Tier = tier

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Normalizing %s (%s, %d bytes)...", file, req.ContentType, len(data))
		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result ingest.SourceResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Status != ingest.StatusIngested {
			printError("%s: %s", result.Status, result.Reason)
			for _, a := range result.Attempts {
				printStatus(string(a.Tier), "%s %s", a.Reason, a.Detail)
			}
			return fmt.Errorf("ingestion %s", result.Status)
		}
		printSuccess("Ingested %s via %s: %d created, %d updated, %d flagged, %d rejected",
			result.Source, result.Tier, result.Created, result.Updated, result.Flagged, result.Rejected)
		return nil
	},
}

// buildIngestRequest infers the content type from the file extension when
// none is given. PDF bytes are base64 encoded for the JSON body.
func buildIngestRequest(name, pageURL, file, contentType string, data []byte) (api.IngestRequest, error) {
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(file)) {
		case ".json", ".jsonld":
			contentType = "application/json"
		case ".html", ".htm":
			contentType = "text/html"
		case ".pdf":
			contentType = "application/pdf"
		case ".txt":
			contentType = "text/plain"
		default:
			return api.IngestRequest{}, fmt.Errorf("cannot infer content type of %s; pass --type", file)
		}
	}

	content := string(data)
	if contentType == "application/pdf" {
		content = base64.StdEncoding.EncodeToString(data)
	}
	return api.IngestRequest{
		Source:      name,
		SourceURL:   pageURL,
		ContentType: contentType,
		Content:     content,
	}, nil
}

func init() {
	ingestCmd.Flags().String("source", "", "source name (a configured source or a new label)")
	ingestCmd.Flags().String("url", "", "page URL the content was fetched from")
	ingestCmd.Flags().String("file", "", "file holding the payload")
	ingestCmd.Flags().String("type", "", "content type (default: from the file extension)")
	ingestCmd.Flags().String("tier", "", "extraction tier to record (api, structured_data, heuristic)")
}

// --- run / runs ---

var runCmd = &cobra.Command{
	Use:   "run [source...]",
	Short: "Queue an ingestion run for the named sources (default: all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/ingest/runs", api.RunRequest{Sources: args})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued run %s", result["job_id"])
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/ingest/runs?limit=%d", limit))
		if err != nil {
			return err
		}

		var runs []api.RunSummary
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}
		writeRuns(os.Stdout, runs, verbose)
		return nil
	},
}

func writeRuns(w io.Writer, runs []api.RunSummary, verbose bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs yet.")
		return
	}
	for _, r := range runs {
		started := "-"
		if r.Report != nil {
			started = formatTime(r.Report.StartedAt)
		}
		fmt.Fprintf(w, "%s  %s  ingested=%d skipped=%d failed=%d\n",
			colorize(colorCyan, shortID(r.ID)), started, r.Ingested, r.Skipped, r.Failed)
		if !verbose || r.Report == nil {
			continue
		}
		for _, s := range r.Report.Sources {
			line := fmt.Sprintf("    %-24s %-9s", s.Source, s.Status)
			if s.Status == ingest.StatusIngested {
				line += fmt.Sprintf(" %s +%d ~%d", s.Tier, s.Created, s.Updated)
			} else if s.Reason != "" {
				line += " " + s.Reason
			}
			fmt.Fprintln(w, line)
		}
	}
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsCmd.Flags().BoolP("verbose", "v", false, "show per-source outcomes")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search events with a free-text question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/search?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result api.SearchResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, result)
		}
		if result.Degraded {
			fmt.Fprintln(os.Stderr, "warning: the event store is unavailable; results may be missing")
		}
		writeEvents(os.Stdout, result.Events)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of events")
	searchCmd.Flags().Bool("json", false, "print the parsed intent and events as JSON")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask the events assistant (interactive without a message)",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		userID, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			reply, err := sendChat(cmd.Context(), client, chat.Request{
				SessionID: sessionID,
				UserID:    userID,
				Message:   strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			writeReply(os.Stdout, reply)
			fmt.Fprintf(os.Stderr, "%s\n", colorize(colorCyan, "session "+reply.SessionID))
			return nil
		}
		return chatREPL(cmd.Context(), client, os.Stdin, os.Stdout, sessionID, userID)
	},
}

func sendChat(ctx context.Context, client *apiClient, req chat.Request) (chat.Reply, error) {
	resp, err := client.post(ctx, "/chat", req)
	if err != nil {
		return chat.Reply{}, err
	}
	var reply chat.Reply
	if err := decodeJSON(resp, &reply); err != nil {
		return chat.Reply{}, err
	}
	return reply, nil
}

// chatREPL reads one message per line until EOF or /quit, then closes the
// session it opened.
func chatREPL(ctx context.Context, client *apiClient, in io.Reader, out io.Writer, sessionID, userID string) error {
	opened := sessionID == ""
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, colorize(colorBold, "> "))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" || line == "/exit" {
			break
		}
		if line != "" {
			reply, err := sendChat(ctx, client, chat.Request{SessionID: sessionID, UserID: userID, Message: line})
			if err != nil {
				return err
			}
			sessionID = reply.SessionID
			writeReply(out, reply)
		}
		fmt.Fprint(out, colorize(colorBold, "> "))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if opened && sessionID != "" {
		resp, err := client.delete(ctx, "/chat/"+sessionID)
		if err == nil {
			resp.Body.Close()
		}
	}
	return nil
}

func writeReply(w io.Writer, reply chat.Reply) {
	fmt.Fprintf(w, "%s\n", reply.Message)
	if len(reply.Events) > 0 {
		writeEvents(w, reply.Events)
		fmt.Fprintln(w)
	}
}

func init() {
	chatCmd.Flags().String("session", "", "continue an existing session")
	chatCmd.Flags().String("user", "", "user ID whose profile personalizes replies")
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Browse stored events and the review queue",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upcoming events",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		if category != "" && !event.IsCategory(category) {
			return fmt.Errorf("unknown category %q (one of %s)", category, strings.Join(event.Categories, ", "))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		q.Set("offset", fmt.Sprint(offset))
		if category != "" {
			q.Set("category", category)
		}
		resp, err := client.get(cmd.Context(), "/events?"+q.Encode())
		if err != nil {
			return err
		}

		var events []event.Event
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}
		writeEvents(os.Stdout, events)
		return nil
	},
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single event as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/events/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var e event.Event
		if err := decodeJSON(resp, &e); err != nil {
			return err
		}
		return printJSON(os.Stdout, e)
	},
}

var eventsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List low-confidence events waiting for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/events/review?limit=%d", limit))
		if err != nil {
			return err
		}

		var events []event.Event
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("Review queue is empty.")
			return nil
		}
		for _, e := range events {
			fmt.Printf("%s  %.2f  %s  %s  %s\n",
				colorize(colorCyan, e.ID),
				e.Confidence,
				formatTime(e.StartTime),
				e.SourceName,
				e.Title,
			)
		}
		return nil
	},
}

var eventsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Clear the review flag on an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/events/"+url.PathEscape(args[0])+"/review", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Approved %s", args[0])
		return nil
	},
}

func init() {
	eventsListCmd.Flags().String("category", "", "only this category")
	eventsListCmd.Flags().Int("limit", 20, "maximum number of events")
	eventsListCmd.Flags().Int("offset", 0, "skip this many events")
	eventsReviewCmd.Flags().Int("limit", 50, "maximum number of events")
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsShowCmd)
	eventsCmd.AddCommand(eventsReviewCmd)
	eventsCmd.AddCommand(eventsApproveCmd)
}

// --- sources ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/sources")
		if err != nil {
			return err
		}

		var sources []source.Descriptor
		if err := decodeJSON(resp, &sources); err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources configured.")
			return nil
		}
		for _, s := range sources {
			tiers := make([]string, 0, 3)
			for _, t := range s.Tiers() {
				tiers = append(tiers, string(t))
			}
			fmt.Printf("%s  every %s  %s\n", colorize(colorBold, s.Name), s.CrawlInterval, strings.Join(tiers, " > "))
		}
		return nil
	},
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

		fmt.Printf("  %s\n", colorize(colorCyan, config.FilePath()))
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
