package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/bunsho/internal/cli"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/render"
	"github.com/hyperjump/bunsho/internal/storage"
)

var (
	flagK             int
	flagProject       string
	flagTopics        []string
	flagExcludeTopics []string
	flagIncludeShared bool
	flagAdvanced      bool

	flagMatch          []string
	flagNode           bool
	flagPolicy         string
	flagWindow         int
	flagExpandHeadings bool

	flagDocID string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Keyword search over document blocks",
	Long: `Keyword search over document blocks.

The query is all remaining arguments joined by spaces. Only letters, digits,
'-' and '.' are accepted and terms are joined with OR; --advanced also
accepts AND, OR, parentheses and quoted phrases.`,
	Example: `  bunsho search machine learning
  bunsho search --advanced '"gradient descent" AND loss'
  bunsho search --project thesis --topic drafts notes`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd, args, false)
	},
}

var semsearchCmd = &cobra.Command{
	Use:   "semsearch <query>",
	Short: "Semantic search over embedded document blocks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd, args, true)
	},
}

// buildSearchQuery joins all positional args with spaces so multi-word
// queries work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// scopeFromFlags returns the scope filter named by the flags, nil when none.
func scopeFromFlags() *models.ScopeFilter {
	f := &models.ScopeFilter{
		Project:       flagProject,
		Topics:        flagTopics,
		ExcludeTopics: flagExcludeTopics,
		IncludeShared: flagIncludeShared,
	}
	if f.IsZero() {
		return nil
	}
	return f
}

func runSearch(cmd *cobra.Command, args []string, semantic bool) error {
	q := &models.SearchQuery{
		Query:         buildSearchQuery(args),
		K:             flagK,
		Scope:         scopeFromFlags(),
		AllowAdvanced: flagAdvanced,
	}
	out := cmd.OutOrStdout()

	if flagServerURL != "" {
		path := "/api/v1/search"
		if semantic {
			path = "/api/v1/semsearch"
		}
		var resp models.SearchResponse
		if err := newAPIClient(flagServerURL).do(http.MethodPost, path, q, &resp, http.StatusOK); err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		return cli.WriteSearchResults(out, &resp, outputFormat())
	}

	cfg, _, logger, components, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	if q.K == 0 {
		q.K = cfg.Search.DefaultK
	}
	if q.K > cfg.Search.MaxK {
		q.K = cfg.Search.MaxK
	}
	if !cmd.Flags().Changed("advanced") {
		q.AllowAdvanced = cfg.Search.AllowAdvanced
	}

	ctx := context.Background()
	var resp *models.SearchResponse
	if semantic {
		resp, err = components.Engine.SemanticSearch(ctx, q)
	} else {
		resp, err = components.Engine.Search(ctx, q)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return cli.WriteSearchResults(out, resp, outputFormat())
}

var renderCmd = &cobra.Command{
	Use:   "render <doc-id | short-id>",
	Short: "Render a document, a filtered view of it, or a single block",
	Example: `  bunsho render notes                      # verbatim
  bunsho render notes --match K3XZ,7QPA     # unmatched blocks become placeholders
  bunsho render notes --match K3XZ --policy window --window 2
  bunsho render --node K3XZ                 # one block`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagServerURL != "" {
			return renderViaHTTP(cmd, args[0])
		}
		cfg, _, logger, components, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()

		ctx := context.Background()
		var out []byte
		switch {
		case flagNode:
			out, err = components.Render.RenderNode(ctx, args[0])
		case len(flagMatch) > 0:
			opts := render.Options{
				Policy:         render.Policy(cfg.Render.Policy),
				Window:         cfg.Render.Window,
				ExpandHeadings: cfg.Render.ExpandHeadingsOrDefault(),
			}
			applyRenderFlags(cmd, &opts)
			out, err = components.Render.RenderFiltered(ctx, args[0], flagMatch, opts)
		default:
			out, err = components.Render.RenderFull(ctx, args[0])
		}
		if err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
		return cli.WriteRendered(cmd.OutOrStdout(), out)
	},
}

// applyRenderFlags overrides opts with the render flags the user set.
func applyRenderFlags(cmd *cobra.Command, opts *render.Options) {
	if cmd.Flags().Changed("policy") {
		opts.Policy = render.Policy(flagPolicy)
	}
	if cmd.Flags().Changed("window") {
		opts.Window = flagWindow
	}
	if cmd.Flags().Changed("expand-headings") {
		opts.ExpandHeadings = flagExpandHeadings
	}
}

func renderViaHTTP(cmd *cobra.Command, id string) error {
	client := newAPIClient(flagServerURL)
	var out []byte
	var err error
	switch {
	case flagNode:
		err = client.do(http.MethodGet, "/api/v1/nodes/"+url.PathEscape(id)+"/render", nil, &out, http.StatusOK)
	case len(flagMatch) > 0:
		req := models.RenderRequest{MatchedIDs: flagMatch}
		if cmd.Flags().Changed("policy") {
			req.Policy = flagPolicy
		}
		if cmd.Flags().Changed("window") {
			req.Window = flagWindow
		}
		if cmd.Flags().Changed("expand-headings") {
			req.ExpandHeadings = &flagExpandHeadings
		}
		err = client.do(http.MethodPost, "/api/v1/documents/"+url.PathEscape(id)+"/render", req, &out, http.StatusOK)
	default:
		err = client.do(http.MethodGet, "/api/v1/documents/"+url.PathEscape(id)+"/render", nil, &out, http.StatusOK)
	}
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	return cli.WriteRendered(cmd.OutOrStdout(), out)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path> | -",
	Short: "Ingest a file, a directory, or markdown from stdin",
	Example: `  bunsho ingest notes.md
  bunsho ingest ~/docs
  cat draft.md | bunsho ingest --id draft -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, logger, components, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()

		ctx := context.Background()
		out := cmd.OutOrStdout()
		path := args[0]
		if path == "-" {
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			res, err := components.Indexer.IngestDocument(ctx, &models.DocumentInput{ID: flagDocID, Content: string(content)})
			if err != nil {
				return fmt.Errorf("ingest failed: %w", err)
			}
			return cli.WriteIngestResult(out, res, outputFormat())
		}

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat path: %w", err)
		}
		if info.IsDir() {
			n, err := components.Indexer.IngestDirectory(ctx, path, cfg.Watch.Extensions)
			if err != nil {
				return fmt.Errorf("ingested %d file(s) from %s, some failed: %w", n, path, err)
			}
			fmt.Fprintf(out, "Ingested %d file(s) from %s\n", n, path)
			return nil
		}
		// A single named file is ingested whatever its extension.
		res, err := components.Indexer.IngestFile(ctx, path, nil)
		if err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		return cli.WriteIngestResult(out, res, outputFormat())
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>...",
	Short: "Delete documents with their blocks, embeddings and index entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagServerURL != "" {
			client := newAPIClient(flagServerURL)
			for _, id := range args {
				if err := client.do(http.MethodDelete, "/api/v1/documents/"+url.PathEscape(id), nil, nil, http.StatusOK); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Document deleted: %s\n", id)
			}
			return nil
		}
		_, _, logger, components, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()

		for _, id := range args {
			if err := components.Indexer.DeleteDocument(context.Background(), id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document deleted: %s\n", id)
		}
		return nil
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed [doc-id...]",
	Short: "Embed blocks that have no embedding for the configured model",
	Long: `Embed blocks that have no embedding for the configured model.
With no arguments every stored document is visited.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, logger, components, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()
		if components.Embedder == nil {
			return fmt.Errorf("embedding backend is none; set embedding.backend in the config")
		}

		ctx := context.Background()
		ids := args
		if len(ids) == 0 {
			if ids, err = allDocumentIDs(ctx, components); err != nil {
				return err
			}
		}
		total := 0
		for _, id := range ids {
			n, err := components.Indexer.EmbedDocument(ctx, id)
			if err != nil {
				return fmt.Errorf("embed %s: %w", id, err)
			}
			total += n
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d block(s) across %d document(s) with %s\n",
			total, len(ids), components.Embedder.Model())
		return nil
	},
}

// allDocumentIDs pages through every stored document id.
func allDocumentIDs(ctx context.Context, c *Components) ([]string, error) {
	const page = 500
	var ids []string
	for offset := 0; ; offset += page {
		docs, err := c.Storage.ListDocuments(ctx, offset, page)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		if len(docs) < page {
			return ids, nil
		}
	}
}

// statusView is the status output shared by direct and server mode.
type statusView struct {
	models.Stats
	SemanticEnabled bool `json:"semantic_enabled"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document, block and embedding counts and disk usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var view statusView
		if flagServerURL != "" {
			if err := newAPIClient(flagServerURL).do(http.MethodGet, "/api/v1/status", nil, &view, http.StatusOK); err != nil {
				return fmt.Errorf("status failed: %w", err)
			}
		} else {
			cfg, _, logger, components, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer components.Close()

			st := cfg.Storage
			paths := append([]string{st.BleveIndexPath, st.VectorIndexPath}, storage.DatabaseFiles(st.DatabasePath)...)
			stats, err := components.Indexer.Stats(context.Background(), paths...)
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}
			if components.Vectors != nil {
				stats.VecAvailable = components.Vectors.VecAvailable()
			}
			view = statusView{Stats: *stats, SemanticEnabled: components.Engine.SemanticEnabled()}
		}
		if outputFormat() == cli.OutputJSON {
			return cli.WriteJSON(cmd.OutOrStdout(), view)
		}
		if err := cli.WriteStats(cmd.OutOrStdout(), &view.Stats, cli.OutputText); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Semantic:      %s\n", enabled(view.SemanticEnabled))
		return nil
	},
}

func enabled(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, semsearchCmd} {
		c.Flags().IntVarP(&flagK, "limit", "k", 0, "number of results (default from config)")
		c.Flags().StringVar(&flagProject, "project", "", "restrict to a project's members")
		c.Flags().StringSliceVar(&flagTopics, "topic", nil, "restrict to items tagged with any of these topics")
		c.Flags().StringSliceVar(&flagExcludeTopics, "exclude-topic", nil, "drop items tagged with these topics")
		c.Flags().BoolVar(&flagIncludeShared, "include-shared", false, "also include items tagged \"shared\"")
		c.Flags().StringVar(&flagServerURL, "server", "", "server URL; empty uses the local index directly")
	}
	searchCmd.Flags().BoolVar(&flagAdvanced, "advanced", false, "accept AND/OR, parentheses and quoted phrases")

	renderCmd.Flags().StringSliceVar(&flagMatch, "match", nil, "matched block ids (full or short); others become placeholders")
	renderCmd.Flags().BoolVar(&flagNode, "node", false, "treat the argument as a block short id")
	renderCmd.Flags().StringVar(&flagPolicy, "policy", "direct", "expansion policy: direct or window")
	renderCmd.Flags().IntVar(&flagWindow, "window", 1, "siblings expanded around a match with --policy window")
	renderCmd.Flags().BoolVar(&flagExpandHeadings, "expand-headings", true, "show unmatched headings in full")
	renderCmd.Flags().StringVar(&flagServerURL, "server", "", "server URL; empty uses the local index directly")

	ingestCmd.Flags().StringVar(&flagDocID, "id", "", "document id for stdin input (generated when empty)")
	deleteCmd.Flags().StringVar(&flagServerURL, "server", "", "server URL; empty uses the local index directly")
	statusCmd.Flags().StringVar(&flagServerURL, "server", "", "server URL; empty uses the local index directly")

	rootCmd.AddCommand(searchCmd, semsearchCmd, renderCmd, ingestCmd, deleteCmd, embedCmd, statusCmd)
}
