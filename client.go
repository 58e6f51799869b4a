// Package coursedex embeds the hybrid course recommender in a Go process:
// load a catalog snapshot, plug in an embedding provider, and rank courses
// without running the HTTP server.
package coursedex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/catalog"
	"github.com/kailas-cloud/coursedex/internal/db"
	dbBadger "github.com/kailas-cloud/coursedex/internal/db/badger"
	dbRedis "github.com/kailas-cloud/coursedex/internal/db/redis"
	"github.com/kailas-cloud/coursedex/internal/domain"
	"github.com/kailas-cloud/coursedex/internal/domain/course"
	"github.com/kailas-cloud/coursedex/internal/domain/rec"
	"github.com/kailas-cloud/coursedex/internal/index/lexical"
	"github.com/kailas-cloud/coursedex/internal/index/semantic"
	"github.com/kailas-cloud/coursedex/internal/metrics"
	"github.com/kailas-cloud/coursedex/internal/repository/veccache"
	openaiClient "github.com/kailas-cloud/coursedex/internal/transport/openai"
	adviseuc "github.com/kailas-cloud/coursedex/internal/usecase/advise"
	recommenduc "github.com/kailas-cloud/coursedex/internal/usecase/recommend"
)

const defaultReadinessTimeout = 10 * time.Second

// Sentinel errors surfaced by the client. Match with errors.Is.
var (
	ErrNotReady      = domain.ErrIndexNotReady
	ErrEmptyQuery    = domain.ErrEmptyQuery
	ErrQueryTooLong  = domain.ErrQueryTooLong
	ErrInvalidTopK   = domain.ErrInvalidTopK
	ErrInvalidFilter = domain.ErrInvalidFilter
)

// Embedder vectorizes text. Implement it to plug in a custom provider.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult carries an embedding vector and token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Prerequisite is one prerequisite clause attached to a course.
type Prerequisite struct {
	Description string
}

// Recommendation is one ranked course.
type Recommendation struct {
	Offering      string
	Section       string
	Title         string
	Description   string
	Department    string
	School        string
	Level         string
	Instructors   string
	Credits       string
	Status        string
	Seats         string
	Meetings      string
	Areas         string
	Prerequisites []Prerequisite
	CombinedScore float64
	LexicalScore  float64
	SemanticScore float64
}

// FilterOptions lists the values accepted for each categorical filter.
type FilterOptions struct {
	Schools     []string
	Departments []string
	Levels      []string
}

// Option configures the client.
type Option func(*clientConfig)

type clientConfig struct {
	catalogPath string

	driver   string
	path     string
	addrs    []string
	password string

	embedder     Embedder
	openaiKey    string
	openaiURL    string
	openaiModel  string
	openaiDim    int
	chatModel    string
	lexOpts      lexical.Options
	weights      recommenduc.Weights
	batchSize    int
	concurrency  int
	embedTimeout time.Duration
	logger       *zap.Logger
}

// WithCatalog sets the course snapshot file to load.
func WithCatalog(path string) Option {
	return func(c *clientConfig) { c.catalogPath = path }
}

// WithBadger persists course vectors in an embedded Badger database at path.
func WithBadger(path string) Option {
	return func(c *clientConfig) {
		c.driver = "badger"
		c.path = path
	}
}

// WithRedis persists course vectors in Redis.
func WithRedis(addr, password string) Option {
	return func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	}
}

// WithEmbedder plugs in a custom embedding provider.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) { c.embedder = e }
}

// WithOpenAI uses an OpenAI-compatible embedding endpoint. baseURL may be
// empty for api.openai.com. dimensions 0 keeps the model default.
func WithOpenAI(apiKey, baseURL, model string, dimensions int) Option {
	return func(c *clientConfig) {
		c.openaiKey = apiKey
		c.openaiURL = baseURL
		c.openaiModel = model
		c.openaiDim = dimensions
	}
}

// WithChatModel sets the chat model used by Advise. Defaults to gpt-4o-mini.
// Advising requires WithOpenAI.
func WithChatModel(model string) Option {
	return func(c *clientConfig) { c.chatModel = model }
}

// WithBM25 overrides lexical ranking parameters.
func WithBM25(k1, b float64, titleWeight int) Option {
	return func(c *clientConfig) {
		c.lexOpts = lexical.Options{K1: k1, B: b, TitleWeight: titleWeight}
	}
}

// WithBlend overrides the lexical/semantic score blend weights.
func WithBlend(lexicalWeight, semanticWeight float64) Option {
	return func(c *clientConfig) {
		c.weights = recommenduc.Weights{Lexical: lexicalWeight, Semantic: semanticWeight}
	}
}

// WithBatching overrides vectorization batch size and worker count.
func WithBatching(batchSize, concurrency int) Option {
	return func(c *clientConfig) {
		c.batchSize = batchSize
		c.concurrency = concurrency
	}
}

// WithEmbedTimeout bounds the per-query vectorization round-trip.
func WithEmbedTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.embedTimeout = d }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// Client is the embedded recommender. Construct with New, call Refresh once
// to build the indexes, then Recommend.
type Client struct {
	store   db.Store
	svc     *recommenduc.Service
	adviser *adviseuc.Service
}

// New creates a client. Indexes are not built yet; call Refresh.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{logger: zap.NewNop()}
	for _, o := range opts {
		o(cfg)
	}

	if cfg.catalogPath == "" {
		return nil, errors.New("coursedex: catalog snapshot required (use WithCatalog)")
	}
	if cfg.embedder == nil && cfg.openaiKey == "" {
		return nil, errors.New("coursedex: embedding provider required (use WithEmbedder or WithOpenAI)")
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("coursedex: vector store not ready: %w", err)
	}

	return wireClient(store, cfg), nil
}

// createStore opens the vector cache backend. With no driver configured the
// cache lives in process memory and vectors are rebuilt on every start.
func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "":
		s, err := dbBadger.NewStore(dbBadger.Config{InMemory: true})
		if err != nil {
			return nil, fmt.Errorf("coursedex: create in-memory store: %w", err)
		}
		return s, nil
	case "badger":
		s, err := dbBadger.NewStore(dbBadger.Config{Path: cfg.path})
		if err != nil {
			return nil, fmt.Errorf("coursedex: create badger store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("coursedex: create redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("coursedex: unknown driver %q", cfg.driver)
	}
}

func wireClient(store db.Store, cfg *clientConfig) *Client {
	openaiCfg := &openaiClient.Config{
		APIKey:     cfg.openaiKey,
		BaseURL:    cfg.openaiURL,
		Model:      cfg.openaiModel,
		Dimensions: cfg.openaiDim,
		Provider:   "openai",
		Logger:     cfg.logger,
	}

	var domEmb domain.Embedder
	if cfg.embedder != nil {
		domEmb = &embedderAdapter{inner: cfg.embedder}
	} else {
		domEmb = openaiClient.NewEmbedder(openaiCfg)
	}

	cache := veccache.New(store, metrics.VectorCacheTotal, cfg.logger)
	builder := semantic.NewBuilder(domEmb, cache, cfg.logger).
		WithBatching(cfg.batchSize, cfg.concurrency)

	catalogPath := cfg.catalogPath
	svc := recommenduc.New(
		recommenduc.LoaderFunc(func() (recommenduc.CatalogReader, error) {
			st, err := catalog.Load(catalogPath)
			if err != nil {
				return nil, err
			}
			return st, nil
		}),
		recommenduc.SemanticBuilderFunc(func(ctx context.Context, courses []*course.Course) (recommenduc.SemanticIndex, error) {
			ix, err := builder.Build(ctx, courses)
			if err != nil {
				return nil, err
			}
			return ix, nil
		}),
		domEmb,
		cfg.logger,
	)
	if cfg.lexOpts != (lexical.Options{}) {
		svc.WithLexicalOptions(cfg.lexOpts)
	}
	if cfg.weights != (recommenduc.Weights{}) {
		svc.WithWeights(cfg.weights)
	}
	if cfg.embedTimeout > 0 {
		svc.WithEmbedTimeout(cfg.embedTimeout)
	}

	var adviser *adviseuc.Service
	if cfg.openaiKey != "" {
		model := cfg.chatModel
		if model == "" {
			model = "gpt-4o-mini"
		}
		chat := openaiClient.NewChatClient(openaiCfg, model)
		adviser = adviseuc.New(svc, chat, cfg.logger)
	}

	return &Client{store: store, svc: svc, adviser: adviser}
}

// Close releases the vector store.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Refresh loads the catalog snapshot and rebuilds both indexes. Safe to call
// while queries are in flight; they keep the previous indexes until the swap.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.svc.Reload(ctx); err != nil {
		return fmt.Errorf("coursedex: refresh: %w", err)
	}
	return nil
}

// Ready reports whether indexes are built and queries can be served.
func (c *Client) Ready() bool {
	return c.svc.Ready()
}

// Recommend ranks the catalog against a free-text interest query. filters may
// be nil; allowed fields are "school", "department", and "level". topK must
// be positive.
func (c *Client) Recommend(
	ctx context.Context, query string, filters map[string]string, topK int,
) ([]Recommendation, error) {
	req, err := rec.New(query, filters, topK)
	if err != nil {
		return nil, err
	}

	recs, err := c.svc.Recommend(ctx, &req)
	if err != nil {
		return nil, err
	}

	out := make([]Recommendation, len(recs))
	for i := range recs {
		out[i] = toPublic(&recs[i])
	}
	return out, nil
}

// Advise retrieves courses for the query, then streams an LLM advising answer
// grounded in them. onCourses (optional) fires once with the ranked list
// before the first answer chunk; onDelta receives answer chunks in order.
// Requires WithOpenAI.
func (c *Client) Advise(
	ctx context.Context, query string, filters map[string]string, topK int,
	onCourses func([]Recommendation) error, onDelta func(string) error,
) error {
	if c.adviser == nil {
		return errors.New("coursedex: advising requires WithOpenAI")
	}

	req, err := rec.New(query, filters, topK)
	if err != nil {
		return err
	}

	if onDelta == nil {
		onDelta = func(string) error { return nil }
	}

	var courses func([]rec.Recommendation) error
	if onCourses != nil {
		courses = func(recs []rec.Recommendation) error {
			out := make([]Recommendation, len(recs))
			for i := range recs {
				out[i] = toPublic(&recs[i])
			}
			return onCourses(out)
		}
	}
	return c.adviser.Advise(ctx, &req, courses, onDelta)
}

// Filters returns the distinct values accepted by each categorical filter.
func (c *Client) Filters() (FilterOptions, error) {
	opts, err := c.svc.Filters()
	if err != nil {
		return FilterOptions{}, err
	}
	return FilterOptions{
		Schools:     opts.Schools,
		Departments: opts.Departments,
		Levels:      opts.Levels,
	}, nil
}

func toPublic(r *rec.Recommendation) Recommendation {
	c := r.Course()
	var prereqs []Prerequisite
	if len(c.Prerequisites) > 0 {
		prereqs = make([]Prerequisite, len(c.Prerequisites))
		for i, p := range c.Prerequisites {
			prereqs[i] = Prerequisite{Description: p.Description}
		}
	}
	return Recommendation{
		Offering:      c.Offering,
		Section:       c.Section,
		Title:         c.Title,
		Description:   c.Description,
		Department:    c.Department,
		School:        c.School,
		Level:         c.Level,
		Instructors:   c.Instructors,
		Credits:       c.Credits,
		Status:        c.Status,
		Seats:         c.Seats,
		Meetings:      c.Meetings,
		Areas:         c.Areas,
		Prerequisites: prereqs,
		CombinedScore: r.CombinedScore(),
		LexicalScore:  r.LexicalScore(),
		SemanticScore: r.SemanticScore(),
	}
}

// embedderAdapter wraps the public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}
