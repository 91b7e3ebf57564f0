package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/observance/ragcore/app"
	"github.com/observance/ragcore/config"
	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/server"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	sourceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

const snippetRunes = 160

// setup loads the config and builds the dependencies. CLI commands other
// than serve stay quiet below warn unless verbose is set.
func setup(ctx context.Context, quiet bool) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, err
	}
	if quiet && cfg.LogLevel() < log.LogLevelWarn {
		cfg.Observability.LogLevel = "warn"
	}

	logger, err := app.NewLogger(cfg.Observability)
	if err != nil {
		return nil, err
	}
	log.SetDefaultLogger(logger)

	return app.NewDependencies(ctx, cfg, logger)
}

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.Int("port", 0, "listen port (overrides PORT)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	serverCfg := deps.Config.Server
	if *port > 0 {
		serverCfg.Port = *port
	}

	srv, err := server.New(deps.Engine, deps.Index,
		server.WithConfig(serverCfg),
		server.WithSessions(deps.Sessions),
		server.WithLogger(deps.Logger),
	)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

type queryFlags struct {
	question *string
	project  *string
	k        *int
	verbose  *bool
}

func newQueryFlags(fs *flag.FlagSet) queryFlags {
	return queryFlags{
		question: fs.String("q", "", "question or query text"),
		project:  fs.String("project", "", "project id; empty or None searches the whole corpus"),
		k:        fs.Int("k", 0, "number of passages to retrieve (0 uses the default)"),
		verbose:  fs.Bool("v", false, "log at the configured level"),
	}
}

func (q queryFlags) text() (string, error) {
	text := strings.TrimSpace(*q.question)
	if text == "" {
		return "", fmt.Errorf("-q is required: %w", rag.ErrEmptyQuery)
	}
	return text, nil
}

func askCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	q := newQueryFlags(fs)
	numPredict := fs.Int("num-predict", 0, "maximum generated tokens (0 uses the default)")
	maxContext := fs.Int("max-context", 0, "context budget in characters (0 uses the default)")
	temperature := fs.Float64("temperature", -1, "sampling temperature (negative uses the default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question, err := q.text()
	if err != nil {
		return err
	}

	deps, err := setup(ctx, !*q.verbose)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	opts := rag.QueryOptions{
		K:               *q.k,
		MaxContextChars: *maxContext,
		NumPredict:      *numPredict,
		Temperature:     deps.Engine.Defaults().Temperature,
	}
	if *temperature >= 0 {
		opts.Temperature = *temperature
	}

	streamed := false
	a, err := deps.Engine.AnswerStream(ctx, question, *q.project, opts, func(_ context.Context, fragment string) error {
		streamed = true
		_, err := io.WriteString(out, fragment)
		return err
	})
	if err != nil {
		return err
	}

	switch {
	case a.Failed():
		if streamed {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, failStyle.Render(a.String()))
	case !streamed:
		fmt.Fprintln(out, a.String())
	default:
		fmt.Fprintln(out)
	}

	if len(a.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Sources (%d)", len(a.Sources))))
		printDocuments(out, a.Sources)
	} else if a.EmptyContext {
		fmt.Fprintln(out, sourceStyle.Render(rag.NoContextPlaceholder))
	}
	return nil
}

func searchCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	q := newQueryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	query, err := q.text()
	if err != nil {
		return err
	}

	deps, err := setup(ctx, !*q.verbose)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	docs, err := deps.Engine.SearchDocs(ctx, query, *q.k, *q.project)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, sourceStyle.Render(rag.NoContextPlaceholder))
		return nil
	}
	printDocuments(out, docs)
	return nil
}

func countCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("count", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "log at the configured level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := setup(ctx, !*verbose)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	n, err := deps.Index.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}
	fmt.Fprintf(out, "%s %d\n", titleStyle.Render(deps.Config.VectorIndex.Collection+":"), n)
	return nil
}

func printDocuments(out io.Writer, docs []rag.Document) {
	for i, d := range docs {
		fmt.Fprintf(out, "%2d. %s\n", i+1, sourceStyle.Render(sourceLabel(d)))
		fmt.Fprintf(out, "    %s\n", snippet(d.Content, snippetRunes))
	}
}

func sourceLabel(d rag.Document) string {
	parts := make([]string, 0, 3)
	if p := d.ProjectID(); p != "" {
		parts = append(parts, "project "+p)
	}
	if f := d.FileID(); f != "" {
		parts = append(parts, "file "+f)
	}
	if c := d.ChunkIndex(); c != "" {
		parts = append(parts, "chunk "+c)
	}
	if len(parts) == 0 {
		return "(no metadata)"
	}
	return strings.Join(parts, ", ")
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
