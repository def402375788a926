package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mendoc/zoomchat/internal/app"
	"github.com/mendoc/zoomchat/internal/config"
	"github.com/mendoc/zoomchat/internal/extraction"
	"github.com/mendoc/zoomchat/internal/logging"
	"github.com/mendoc/zoomchat/internal/mcp"
	"github.com/mendoc/zoomchat/internal/notify"
	"github.com/mendoc/zoomchat/internal/searcher"
	"github.com/mendoc/zoomchat/internal/storage"
	"github.com/mendoc/zoomchat/pkg/types"
)

const (
	metaConfig = "config"
	metaLogger = "logger"
)

// setup loads the configuration and builds the logger. Logs go to stderr,
// stdout is reserved for command output and the MCP protocol.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "debug", "info", "warn", "warning", "error":
			cfg.Log.Level = lvl
		default:
			return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", lvl)
		}
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, c.App.ErrWriter)
	slog.SetDefault(logger)

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaLogger] = logger
	return nil
}

func configFrom(c *cli.Context) config.Config {
	if cfg, ok := c.App.Metadata[metaConfig].(config.Config); ok {
		return cfg
	}
	return config.Default()
}

func loggerFrom(c *cli.Context) *slog.Logger {
	if l, ok := c.App.Metadata[metaLogger].(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// openApp builds the full application; commands calling models need API keys
func openApp(ctx context.Context, c *cli.Context) (*app.App, error) {
	cfg := configFrom(c)
	if err := cfg.RequireAPIKeys(); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, loggerFrom(c))
}

func openStore(ctx context.Context, c *cli.Context) (storage.Storage, error) {
	return app.OpenStorage(ctx, configFrom(c).Storage)
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	a, err := openApp(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() { _ = a.Close() }()

	mcp.ServerVersion = version
	server := mcp.NewFromApp(a)
	logger := loggerFrom(c)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("MCP server ready, listening on stdio")
		errChan <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errChan:
		return err
	}
}

func extractCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	a, err := openApp(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	opts := extraction.Options{ForceExtract: c.Bool("force")}
	var stats *types.ExtractionRunStats
	if number := c.Args().First(); number != "" {
		stats, err = a.Orchestrator.ExtractPublication(ctx, number, opts)
	} else {
		stats, err = a.Orchestrator.ExtractLatest(ctx, opts)
	}
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(c, stats)
	}
	_, err = fmt.Fprintln(c.App.Writer, notify.FormatRun(stats))
	return err
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("search needs a QUERY")
	}

	ctx, stop := signalContext(c)
	defer stop()

	a, err := openApp(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	req := searcher.SearchRequest{
		Query: query,
		Limit: c.Int("limit"),
	}
	if c.IsSet("min-score") {
		minScore := c.Float64("min-score")
		req.MinScore = &minScore
	}
	resp, err := a.Searcher.Search(ctx, req)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(c, resp)
	}
	if len(resp.Results) == 0 {
		_, err = fmt.Fprintln(c.App.Writer, "Aucune annonce trouvée.")
		return err
	}
	for _, r := range resp.Results {
		if _, err := fmt.Fprintf(c.App.Writer, "%s\n\n", r.Message); err != nil {
			return err
		}
	}
	return nil
}

func publicationAddCommand(c *cli.Context) error {
	number := c.Args().First()
	pdfURL := c.String("url")
	if file := c.String("file"); file != "" {
		if pdfURL != "" {
			return errors.New("--url and --file are mutually exclusive")
		}
		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return err
		}
		pdfURL = "file://" + abs
	}

	pub := &types.Publication{
		Number: number,
		Period: c.String("period"),
		PDFURL: pdfURL,
	}
	if ts := c.Timestamp("published-at"); ts != nil {
		t := ts.UTC()
		pub.PublishedAt = &t
	}
	if err := pub.Validate(); err != nil {
		return err
	}

	store, err := openStore(c.Context, c)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.UpsertPublication(c.Context, pub); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "publication %s registered (id %d)\n", pub.Number, pub.ID)
	return err
}

func publicationShowCommand(c *cli.Context) error {
	store, err := openStore(c.Context, c)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var pub *types.Publication
	if number := c.Args().First(); number != "" {
		pub, err = store.GetPublicationByNumber(c.Context, number)
	} else {
		pub, err = store.GetLatestPublication(c.Context)
	}
	if err != nil {
		return err
	}
	count, err := store.CountListings(c.Context, pub.ID)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Numéro   : %s\n", pub.Number)
	if pub.Period != "" {
		fmt.Fprintf(w, "Période  : %s\n", pub.Period)
	}
	fmt.Fprintf(w, "PDF      : %s\n", pub.PDFURL)
	if pub.PublishedAt != nil {
		fmt.Fprintf(w, "Parution : %s\n", pub.PublishedAt.Format("2006-01-02"))
	}
	fmt.Fprintf(w, "Annonces : %d\n", count)
	if pub.DeliveredFileRef != nil {
		fmt.Fprintf(w, "Fichier  : %s\n", *pub.DeliveredFileRef)
	}
	return nil
}

func publicationAttachCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: zoomchat publication attach NUMBER FILE_REF")
	}
	store, err := openStore(c.Context, c)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	number, ref := c.Args().Get(0), c.Args().Get(1)
	if err := store.AttachDeliveredFile(c.Context, number, ref); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "publication %s: file attached\n", number)
	return err
}

// migrateUpCommand relies on the stores applying pending migrations when opened
func migrateUpCommand(c *cli.Context) error {
	store, err := openStore(c.Context, c)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	v, err := schemaVersion(c.Context, store)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "schema at version %s\n", v)
	return err
}

func migrateDownCommand(c *cli.Context) error {
	store, err := openStore(c.Context, c)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	switch s := store.(type) {
	case *storage.SQLiteStorage:
		err = storage.RollbackMigration(c.Context, s.DB())
	case *storage.PostgresStorage:
		err = storage.RollbackPostgresMigration(c.Context, s.Pool())
	default:
		err = fmt.Errorf("rollback not supported for %s", store.Backend())
	}
	if err != nil {
		return err
	}

	v, err := schemaVersion(c.Context, store)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "schema rolled back to version %s\n", v)
	return err
}

func schemaVersion(ctx context.Context, store storage.Storage) (string, error) {
	switch s := store.(type) {
	case *storage.SQLiteStorage:
		return storage.SchemaVersion(ctx, s.DB())
	case *storage.PostgresStorage:
		return storage.PostgresSchemaVersion(ctx, s.Pool())
	}
	return "", errors.New("unknown storage backend")
}

func versionCommand(c *cli.Context) error {
	w := c.App.Writer
	fmt.Fprintf(w, "zoomchat %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
	fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	return nil
}

func writeJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
