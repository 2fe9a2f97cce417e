// askdoc asks a question about a local file using the same engine as the
// server, printing the answer to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/dgallion1/docask/internal/chunker"
	"github.com/dgallion1/docask/internal/config"
	"github.com/dgallion1/docask/internal/doctree"
	"github.com/dgallion1/docask/internal/llm"
	"github.com/dgallion1/docask/internal/parser"
	"github.com/dgallion1/docask/internal/query"
	"github.com/dgallion1/docask/internal/tokencount"
)

type options struct {
	file     string
	question string
	provider string
	model    string
	quality  int
	include  []string
	exclude  []string
	stream   bool
	window   int
	split    int
	verbose  bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, cfg config.Config, stderr io.Writer) (options, error) {
	opts := options{provider: cfg.LLMProvider, model: cfg.LLMModel, window: cfg.ModelWindow}

	flagSet := pflag.NewFlagSet("askdoc", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.file, "file", "f", "", "document to ask about (txt, md, html, csv, pdf, docx)")
	flagSet.StringVarP(&opts.question, "question", "q", "", "question to ask")
	flagSet.StringVar(&opts.provider, "provider", opts.provider, "completion provider: anthropic or openai")
	flagSet.StringVar(&opts.model, "model", opts.model, "model name")
	flagSet.IntVar(&opts.quality, "quality", 0, "section prefilter level, 0 (off) to 5 (keep all)")
	flagSet.StringSliceVar(&opts.include, "include", nil, "only use sections whose label contains one of these")
	flagSet.StringSliceVar(&opts.exclude, "exclude", nil, "skip sections whose label contains one of these")
	flagSet.BoolVar(&opts.stream, "stream", false, "print the answer as it is generated")
	flagSet.IntVar(&opts.window, "window", opts.window, "model context window in tokens")
	flagSet.IntVar(&opts.split, "split", 0, "print the document split into chunks of at most this many tokens and exit")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log engine decisions to stderr")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if opts.file == "" {
		return options{}, fmt.Errorf("--file is required")
	}
	if opts.question == "" && opts.split <= 0 {
		return options{}, fmt.Errorf("--question is required")
	}
	if len(opts.include) > 0 && len(opts.exclude) > 0 {
		return options{}, fmt.Errorf("--include and --exclude are mutually exclusive")
	}
	return opts, nil
}

func (o options) filter() doctree.Filter {
	switch {
	case len(o.include) > 0:
		return doctree.Filter{Mode: doctree.Include, Sections: o.include}
	case len(o.exclude) > 0:
		return doctree.Filter{Mode: doctree.Exclude, Sections: o.exclude}
	}
	return doctree.Filter{}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	opts, err := parseFlags(args, cfg, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	doc, err := parseFile(opts.file)
	if err != nil {
		return err
	}
	counter := tokencount.New(cfg.TokenEncoding, cfg.TokenMultiplier, log)
	if opts.split > 0 {
		printChunks(stdout, chunker.ChunkDocument(doc, cfg.Query().Separator, opts.split, counter))
		return nil
	}

	client, err := llm.New(llm.Settings{
		Provider: opts.provider,
		APIKey:   cfg.LLMAPIKey,
		Model:    opts.model,
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	qcfg := cfg.Query()
	qcfg.ModelWindow = opts.window
	qcfg.PrefilterEnabled = opts.quality > 0
	engine, err := query.New(qcfg, client, counter, query.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	req := query.Request{
		Document: doc,
		Question: opts.question,
		Quality:  query.Quality(opts.quality),
		Filter:   opts.filter(),
	}
	if !opts.stream {
		ans, err := engine.Ask(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, ans.Text)
		return nil
	}

	out := make(chan string, qcfg.StreamBuffer)
	errCh := make(chan error, 1)
	go func() {
		_, err := engine.AskStream(ctx, req, out)
		errCh <- err
	}()
	for frag := range out {
		io.WriteString(stdout, frag)
	}
	fmt.Fprintln(stdout)
	return <-errCh
}

func printChunks(w io.Writer, chunks []chunker.Chunk) {
	for i, text := range chunker.Texts(chunks) {
		fmt.Fprintf(w, "--- chunk %d/%d (%d tokens)\n%s\n", i+1, len(chunks), chunks[i].Tokens, text)
	}
}

func parseFile(path string) (*doctree.Document, error) {
	p, err := parser.ForFile(path)
	if err != nil {
		return nil, err
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = true
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := p.Parse(f, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("%s: no text extracted", path)
	}
	return doc, nil
}
