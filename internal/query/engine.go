// Package query answers questions about documents that do not fit a model's
// context window. A question flows through section filtering, an optional
// relevance prefilter, budget-fitted segmentation, concurrent per-chunk
// completion calls and a final merge of the partial answers.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dgallion1/docask/internal/chunker"
	"github.com/dgallion1/docask/internal/doctree"
	"github.com/dgallion1/docask/internal/llm"
	"github.com/dgallion1/docask/internal/telemetry"
	"github.com/dgallion1/docask/internal/tokencount"
)

// ErrInvalidRequest marks a request the engine refuses before doing any work.
var ErrInvalidRequest = errors.New("invalid request")

// messageOverhead approximates the role and framing tokens of one message.
const messageOverhead = 4

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Validate checks the role.
func (t Turn) Validate() error {
	if t.Role != llm.RoleUser && t.Role != llm.RoleAssistant {
		return fmt.Errorf("turn role must be %q or %q, got %q", llm.RoleUser, llm.RoleAssistant, t.Role)
	}
	return nil
}

// Request is one question. Document takes precedence over Context.
type Request struct {
	Document *doctree.Document
	Context  string
	Question string
	Quote    string
	History  []Turn
	Quality  Quality
	Filter   doctree.Filter
}

// Validate reports the first problem with r.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if r.Document == nil && strings.TrimSpace(r.Context) == "" {
		return fmt.Errorf("%w: a document or context is required", ErrInvalidRequest)
	}
	if err := r.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for i, t := range r.History {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: history[%d]: %v", ErrInvalidRequest, i, err)
		}
	}
	return nil
}

// Answer is the final text plus what it took to produce it.
type Answer struct {
	Text          string   `json:"text"`
	Chunks        int      `json:"chunks"`
	DroppedChunks int      `json:"dropped_chunks"`
	Iterations    int      `json:"fit_iterations"`
	BestEffort    bool     `json:"best_effort,omitempty"`
	Sections      []string `json:"sections,omitempty"`
	LoadTest      bool     `json:"load_test,omitempty"`
}

// PartialAnswer is one chunk's reply, tagged with the chunk's position.
type PartialAnswer struct {
	Index int
	Text  string
}

// Engine runs questions. It is safe for concurrent use; all questions share
// one pool of completion call slots.
type Engine struct {
	cfg     Config
	llm     llm.Completer
	counter tokencount.Counter
	pool    *semaphore.Weighted
	log     *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// New validates cfg and builds an engine.
func New(cfg Config, completer llm.Completer, counter tokencount.Counter, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	if completer == nil {
		return nil, fmt.Errorf("query: completer is required")
	}
	if counter == nil {
		counter = tokencount.NewHeuristic(tokencount.DefaultMultiplier)
	}
	e := &Engine{
		cfg:     cfg,
		llm:     completer,
		counter: counter,
		pool:    semaphore.NewWeighted(int64(cfg.PoolSize)),
		log:     slog.Default(),
		tracer:  telemetry.Tracer("github.com/dgallion1/docask/internal/query"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if need := cfg.MaxChunks*cfg.CompletionReserve + cfg.MergeFloor; need > cfg.ModelWindow {
		e.log.Warn("full-length partial answers cannot all fit one merge call",
			"max_chunks", cfg.MaxChunks, "completion_reserve", cfg.CompletionReserve,
			"merge_floor", cfg.MergeFloor, "needed", need, "model_window", cfg.ModelWindow)
	}
	return e, nil
}

// Config returns the engine's settings.
func (e *Engine) Config() Config { return e.cfg }

// IsLoadTest reports whether question carries the load-test phrase.
func IsLoadTest(question, phrase string) bool {
	return phrase != "" && strings.Contains(strings.ToLower(question), strings.ToLower(phrase))
}

// Ask answers req and returns the whole answer.
func (e *Engine) Ask(ctx context.Context, req Request) (ans *Answer, err error) {
	ctx, span := e.tracer.Start(ctx, "query.Ask")
	defer func() { e.finish(span, "whole", ans, err) }()

	if IsLoadTest(req.Question, e.cfg.LoadTestPhrase) {
		return &Answer{Text: e.cfg.LoadTestResponse, LoadTest: true}, nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	ans = p.answer()
	if len(p.chunks) == 0 {
		ans.Text = NotEnoughInfo
		return ans, nil
	}

	partials, err := e.Dispatch(ctx, p.chunks, p.question, p.history, p.plan.CompletionReserve)
	if err != nil {
		return nil, err
	}
	text, err := e.Merge(ctx, pruneInsufficient(partials), p.question, p.history)
	if err != nil {
		return nil, err
	}
	ans.Text = text
	return ans, nil
}

// AskStream answers req, sending the final stage's text to out in groups of
// StreamGroupSize fragments as the model produces it. Chunk calls still all
// finish before the merge starts. out is closed on return.
func (e *Engine) AskStream(ctx context.Context, req Request, out chan<- string) (ans *Answer, err error) {
	defer close(out)
	ctx, span := e.tracer.Start(ctx, "query.AskStream")
	defer func() { e.finish(span, "stream", ans, err) }()

	if IsLoadTest(req.Question, e.cfg.LoadTestPhrase) {
		if err := emit(ctx, out, e.cfg.LoadTestResponse); err != nil {
			return nil, err
		}
		return &Answer{Text: e.cfg.LoadTestResponse, LoadTest: true}, nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	ans = p.answer()

	var final *llm.Request
	switch len(p.chunks) {
	case 0:
		ans.Text = NotEnoughInfo
	case 1:
		r := e.chunkRequest(p.chunks[0].Text, p.question, p.history, p.plan.CompletionReserve)
		final = &r
	default:
		partials, err := e.Dispatch(ctx, p.chunks, p.question, p.history, p.plan.CompletionReserve)
		if err != nil {
			return nil, err
		}
		partials = pruneInsufficient(partials)
		switch len(partials) {
		case 0:
			ans.Text = NotEnoughInfo
		case 1:
			ans.Text = partials[0].Text
		default:
			r := e.mergeRequest(partials, p.question, p.history)
			final = &r
		}
	}

	if final == nil {
		if err := emit(ctx, out, ans.Text); err != nil {
			return nil, err
		}
		return ans, nil
	}

	stage := "chunk"
	if len(p.chunks) > 1 {
		stage = "merge"
	}
	text, err := e.streamGrouped(ctx, stage, *final, out)
	if err != nil {
		return nil, err
	}
	ans.Text = text
	return ans, nil
}

// streamGrouped streams req through Group into out and returns the full text.
func (e *Engine) streamGrouped(ctx context.Context, stage string, req llm.Request, out chan<- string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frags := make(chan string, e.cfg.StreamBuffer)
	grouped := Group(ctx, frags, e.cfg.StreamGroupSize)

	type result struct {
		resp *llm.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := e.pool.Acquire(ctx, 1); err != nil {
			close(frags)
			done <- result{err: err}
			return
		}
		defer e.pool.Release(1)
		resp, err := e.callStream(ctx, stage, req, frags)
		close(frags)
		done <- result{resp, err}
	}()

	for g := range grouped {
		select {
		case out <- g:
		case <-ctx.Done():
		}
	}
	r := <-done
	if r.err != nil {
		return "", r.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.resp.Text, nil
}

// Dispatch queries every chunk concurrently and returns the replies ordered
// by chunk index. It waits for all calls; the first failure cancels the rest
// and is returned.
func (e *Engine) Dispatch(ctx context.Context, chunks []chunker.Chunk, question string, history []Turn, reserve int) ([]PartialAnswer, error) {
	ctx, span := e.tracer.Start(ctx, "query.dispatch", trace.WithAttributes(attribute.Int("chunks", len(chunks))))
	defer span.End()

	results := make([]PartialAnswer, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range chunks {
		g.Go(func() error {
			if err := e.pool.Acquire(gctx, 1); err != nil {
				return err
			}
			defer e.pool.Release(1)

			resp, err := e.call(gctx, "chunk", e.chunkRequest(ch.Text, question, history, reserve))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", ch.Index, err)
			}
			results[i] = PartialAnswer{Index: ch.Index, Text: resp.Text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

// Merge combines partial answers in order into one. A single partial answer
// is returned unchanged without a call; none yields NotEnoughInfo.
func (e *Engine) Merge(ctx context.Context, partials []PartialAnswer, question string, history []Turn) (string, error) {
	switch len(partials) {
	case 0:
		return NotEnoughInfo, nil
	case 1:
		return partials[0].Text, nil
	}

	ctx, span := e.tracer.Start(ctx, "query.merge", trace.WithAttributes(attribute.Int("partials", len(partials))))
	defer span.End()

	if err := e.pool.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.pool.Release(1)

	resp, err := e.call(ctx, "merge", e.mergeRequest(partials, question, history))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("merge: %w", err)
	}
	return resp.Text, nil
}

// MergeReserve is the completion budget for a merge call: whatever the
// window leaves after the prompt, but never less than floor.
func MergeReserve(cfg Config, templateTokens, partialTokens, questionTokens int) int {
	reserve := max(cfg.MergeFloor, cfg.ModelWindow-templateTokens-partialTokens-questionTokens)
	if cfg.MaxOutputTokens > 0 {
		reserve = min(reserve, cfg.MaxOutputTokens)
	}
	return reserve
}

func (e *Engine) mergeRequest(partials []PartialAnswer, question string, history []Turn) llm.Request {
	texts := make([]string, len(partials))
	partialTokens := 0
	for i, p := range partials {
		texts[i] = p.Text
		partialTokens += e.counter.Count(p.Text)
	}
	template := e.counter.Count(mergeSystemPrompt) + e.counter.Count(mergeRules) +
		e.historyTokens(history) + messageOverhead*(len(partials)+1)

	return llm.Request{
		System:      mergeSystemPrompt,
		Messages:    buildMessages(history, mergePrompt(question, texts)),
		MaxTokens:   MergeReserve(e.cfg, template, partialTokens, e.counter.Count(question)),
		Temperature: e.cfg.Temperature,
	}
}

func (e *Engine) chunkRequest(text, question string, history []Turn, reserve int) llm.Request {
	return llm.Request{
		System:      chunkSystemPrompt,
		Messages:    buildMessages(history, chunkPrompt(text, question)),
		MaxTokens:   reserve,
		Temperature: e.cfg.Temperature,
	}
}

type prepared struct {
	question string
	history  []Turn
	chunks   []chunker.Chunk
	plan     Plan
	dropped  int
	sections []string
}

func (p *prepared) answer() *Answer {
	return &Answer{
		Chunks:        len(p.chunks),
		DroppedChunks: p.dropped,
		Iterations:    p.plan.Iterations,
		BestEffort:    p.plan.BestEffort,
		Sections:      p.sections,
	}
}

// prepare filters, prefilters, renders and segments the request's text.
func (e *Engine) prepare(ctx context.Context, req Request) (*prepared, error) {
	p := &prepared{
		question: withQuote(req.Question, tokencount.Truncate(e.counter, req.Quote, e.cfg.MaxQuoteTokens)),
		history:  e.trimHistory(req.History),
	}

	var (
		text  string
		split Splitter
	)
	if req.Document != nil {
		doc := req.Filter.Apply(req.Document)
		if e.cfg.PrefilterEnabled {
			if k := KForQuality(req.Quality); k > 0 {
				labels := doc.SectionLabels()
				kept, err := e.RankSections(ctx, p.question, labels, k)
				if err != nil {
					return nil, err
				}
				if len(kept) < len(labels) {
					doc = doc.SelectSections(kept)
					p.sections = kept
				}
			}
		}
		text = doc.Render(e.cfg.Separator)
		split = func(t string, n int) []chunker.Chunk {
			return chunker.SplitParagraphs(t, e.cfg.Separator, n, e.counter)
		}
	} else {
		text = req.Context
		split = func(t string, n int) []chunker.Chunk {
			return chunker.Split(t, n, e.counter)
		}
	}

	fixed := e.fixedTokens(p.question, p.history)
	_, span := e.tracer.Start(ctx, "query.fit")
	plan, err := Fit(e.cfg, text, fixed, split)
	span.SetAttributes(attribute.Int("iterations", plan.Iterations), attribute.Int("chunks", len(plan.Chunks)))
	span.End()
	if err != nil {
		return nil, err
	}
	p.plan = plan
	p.chunks = plan.Chunks

	if plan.BestEffort {
		e.log.Warn("chunk exceeds model window at minimum budget, sending anyway",
			"window", e.cfg.ModelWindow, "largest_chunk", chunker.MaxTokens(plan.Chunks))
	}
	if len(p.chunks) > e.cfg.MaxChunks {
		p.dropped = len(p.chunks) - e.cfg.MaxChunks
		p.chunks = p.chunks[:e.cfg.MaxChunks]
		e.log.Warn("dropping chunks beyond limit",
			"chunks", len(plan.Chunks), "kept", e.cfg.MaxChunks, "dropped", p.dropped)
	}
	return p, nil
}

// fixedTokens is what every chunk prompt costs besides the chunk itself.
func (e *Engine) fixedTokens(question string, history []Turn) int {
	return e.counter.Count(chunkSystemPrompt) +
		e.counter.Count(chunkPrompt("", question)) +
		e.historyTokens(history) +
		messageOverhead
}

func (e *Engine) historyTokens(history []Turn) int {
	n := 0
	for _, t := range history {
		n += e.counter.Count(t.Content) + messageOverhead
	}
	return n
}

// trimHistory keeps the most recent turns that fit MaxHistoryTokens.
func (e *Engine) trimHistory(history []Turn) []Turn {
	if e.cfg.MaxHistoryTokens <= 0 {
		return history
	}
	total := 0
	start := len(history)
	for start > 0 {
		cost := e.counter.Count(history[start-1].Content) + messageOverhead
		if total+cost > e.cfg.MaxHistoryTokens {
			break
		}
		total += cost
		start--
	}
	return history[start:]
}

// buildMessages appends the user prompt to history. Leading assistant turns
// are dropped and consecutive turns of one role are joined, since providers
// expect alternating roles starting with the user.
func buildMessages(history []Turn, prompt string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	add := func(role, content string) {
		if len(msgs) == 0 && role != llm.RoleUser {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n\n" + content
			return
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	for _, t := range history {
		add(t.Role, t.Content)
	}
	add(llm.RoleUser, prompt)
	return msgs
}

// pruneInsufficient drops replies that are only the insufficient-information
// sentence.
func pruneInsufficient(partials []PartialAnswer) []PartialAnswer {
	kept := partials[:0:0]
	for _, p := range partials {
		t := strings.TrimSpace(p.Text)
		t = strings.Trim(t, `."'`)
		if strings.EqualFold(t, NotEnoughInfo) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func emit(ctx context.Context, out chan<- string, s string) error {
	select {
	case out <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) finish(span trace.Span, mode string, ans *Answer, err error) {
	outcome := "ok"
	var dispatched, dropped, iterations int
	if ans != nil {
		dispatched, dropped, iterations = ans.Chunks, ans.DroppedChunks, ans.Iterations
		span.SetAttributes(
			attribute.Int("chunks", ans.Chunks),
			attribute.Int("dropped_chunks", ans.DroppedChunks),
			attribute.Bool("load_test", ans.LoadTest),
		)
	}
	if err != nil {
		outcome = "error"
		switch {
		case errors.Is(err, ErrInvalidRequest):
			outcome = "invalid"
		case errors.Is(err, ErrBudgetUnsatisfiable):
			outcome = "unsatisfiable"
		case errors.Is(err, context.Canceled):
			outcome = "canceled"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if ans != nil && err == nil {
		e.log.Debug("question answered", "mode", mode, "chunks", dispatched, "dropped", dropped, "iterations", iterations)
	}
	e.metrics.ObserveAsk(mode, outcome, dispatched, dropped, iterations)
	span.End()
}
