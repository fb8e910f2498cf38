package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"askdocs/internal/embedding"
	"askdocs/internal/faq"
	"askdocs/internal/settings"
	"askdocs/internal/text"
	"askdocs/internal/vector"
)

// Deps are the collaborators of a Service. FAQ, Settings and Logger are
// optional.
type Deps struct {
	Normalizer *text.Normalizer
	Segmenter  *text.Segmenter
	Gateway    *embedding.Gateway
	Index      *vector.Index
	Catalog    Catalog
	FAQ        *faq.Matcher
	Settings   *settings.Service
	Logger     *QueryLogger
}

type Options struct {
	TopK         int
	MinScore     float32
	FAQThreshold float32
	// QueryTimeout bounds FAQ match, embedding and index query together.
	QueryTimeout time.Duration

	EmbedBatchSize   int
	EmbedConcurrency int
	MaxRetries       uint64
	RetryInterval    time.Duration
}

func DefaultOptions() Options {
	return Options{
		TopK:             5,
		MinScore:         0.2,
		FAQThreshold:     0.85,
		QueryTimeout:     10 * time.Second,
		EmbedBatchSize:   32,
		EmbedConcurrency: 4,
		MaxRetries:       3,
		RetryInterval:    500 * time.Millisecond,
	}
}

type Service struct {
	normalizer *text.Normalizer
	segmenter  *text.Segmenter
	gateway    *embedding.Gateway
	index      *vector.Index
	catalog    Catalog
	faq        *faq.Matcher
	settings   *settings.Service
	logger     *QueryLogger
	opts       Options

	// ingestion is serialized; queries run concurrently against the index.
	writeMu sync.Mutex
	now     func() time.Time
}

func NewService(d Deps, opts Options) (*Service, error) {
	if d.Normalizer == nil || d.Segmenter == nil || d.Gateway == nil || d.Index == nil || d.Catalog == nil {
		return nil, errors.New("retrieval: normalizer, segmenter, gateway, index and catalog are required")
	}
	if d.Gateway.Model() != d.Index.Model() {
		return nil, fmt.Errorf("%w: gateway embeds with %s, index holds %s", vector.ErrModelMismatch, d.Gateway.Model(), d.Index.Model())
	}
	if opts.EmbedBatchSize < 1 {
		opts.EmbedBatchSize = 1
	}
	if opts.EmbedConcurrency < 1 {
		opts.EmbedConcurrency = 1
	}
	return &Service{
		normalizer: d.Normalizer,
		segmenter:  d.Segmenter,
		gateway:    d.Gateway,
		index:      d.Index,
		catalog:    d.Catalog,
		faq:        d.FAQ,
		settings:   d.Settings,
		logger:     d.Logger,
		opts:       opts,
		now:        time.Now,
	}, nil
}

// Ingest normalizes, segments, embeds and indexes src, replacing any earlier
// version of the same origin. Chunks whose vectors are already stored under the
// current model are not embedded again.
func (s *Service) Ingest(ctx context.Context, src Source) (*Document, error) {
	if src.Origin == "" {
		return nil, NewIngestError(src.Origin, "missing origin", ErrInvalidSource)
	}
	if src.Kind == "" {
		src.Kind = KindText
	}
	start := time.Now()
	normalized := s.normalizer.Normalize(src.Text)
	segments := s.segmenter.Segment(normalized)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	docID := DocumentID(src.Origin)
	hash := contentHash(normalized)
	version := 1
	prev, err := s.catalog.Get(ctx, docID)
	switch {
	case err == nil:
		version = prev.Version
		if prev.ContentHash != hash {
			version++
		}
	case !errors.Is(err, ErrDocumentNotFound):
		return nil, NewIngestError(src.Origin, "catalog lookup failed", err)
	}

	ids := ChunkIDs(docID, segments)
	chunks := make([]Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = Chunk{
			ID:         ids[i],
			DocumentID: docID,
			Ordinal:    seg.Ordinal,
			Text:       seg.Text,
			CharStart:  seg.CharStart,
			CharEnd:    seg.CharEnd,
			TokenCount: seg.TokenCount,
		}
	}

	vectors, reused, err := s.chunkVectors(ctx, chunks)
	if err != nil {
		return nil, NewIngestError(src.Origin, "embedding failed", err)
	}

	entries := make([]vector.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = vector.Entry{
			ChunkID:      ch.ID,
			DocumentID:   docID,
			Ordinal:      ch.Ordinal,
			Vector:       vectors[i],
			ModelVersion: s.gateway.Model().Version,
		}
	}

	doc := &Document{
		ID:          docID,
		Origin:      src.Origin,
		Kind:        src.Kind,
		Version:     version,
		ContentHash: hash,
		ChunkCount:  len(chunks),
		Text:        normalized,
		IngestedAt:  s.now().UTC(),
	}
	if err := s.catalog.Save(ctx, doc, chunks); err != nil {
		return nil, NewIngestError(src.Origin, "catalog save failed", err)
	}
	if err := s.index.Replace(ctx, docID, entries); err != nil {
		return nil, NewIngestError(src.Origin, "index write failed", err)
	}

	slog.InfoContext(ctx, "document ingested",
		"origin", src.Origin,
		"document_id", docID,
		"version", version,
		"chunks", len(chunks),
		"avg_tokens", averageTokens(chunks),
		"reused_vectors", reused,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// IngestAll ingests every source and reports each outcome. A failing source
// never stops the rest of the batch.
func (s *Service) IngestAll(ctx context.Context, sources []Source) []IngestReport {
	reports := make([]IngestReport, 0, len(sources))
	for _, src := range sources {
		doc, err := s.Ingest(ctx, src)
		if err != nil {
			slog.WarnContext(ctx, "ingestion failed", "origin", src.Origin, "error", err)
		}
		reports = append(reports, IngestReport{Origin: src.Origin, Document: doc, Err: err})
	}
	return reports
}

// Remove deletes a document and its chunks. The index goes first so a query
// never resolves a chunk of a half-removed document.
func (s *Service) Remove(ctx context.Context, documentID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.catalog.Get(ctx, documentID); err != nil {
		return err
	}
	if err := s.index.Remove(ctx, documentID); err != nil {
		return fmt.Errorf("remove vectors: %w", err)
	}
	if err := s.catalog.Delete(ctx, documentID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "document removed", "document_id", documentID)
	return nil
}

// Query answers question from the FAQ table when a stage matches, and from the
// index otherwise.
func (s *Service) Query(ctx context.Context, question string, qo QueryOptions) (*Answer, error) {
	start := time.Now()
	q := s.normalizer.Normalize(question)
	if q == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidQuery)
	}

	topK, minScore, threshold := s.params(ctx, qo)
	if topK < 1 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, vector.ErrInvalidK)
	}
	if threshold <= minScore {
		return nil, fmt.Errorf("%w: faq threshold %.2f must be above min score %.2f", ErrInvalidQuery, threshold, minScore)
	}

	if s.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
	}

	ans := &Answer{Question: question}
	var err error
	defer func() {
		s.logQuery(ctx, ans, err, time.Since(start))
	}()

	embed := s.lazyEmbed(q)

	if s.faq != nil && !qo.SkipFAQ {
		var hit faq.Match
		var ok bool
		hit, ok, err = s.faq.Match(ctx, q, embed, faq.WithThreshold(threshold))
		if err != nil {
			err = s.queryError(ctx, err)
			return nil, err
		}
		if ok {
			ans.FAQHit = true
			ans.Results = []Result{{
				Kind:       ResultFAQ,
				Ref:        hit.Entry.ID,
				Text:       hit.Entry.Answer,
				Score:      hit.Score,
				Similarity: vector.Describe(hit.Score),
				Rank:       1,
				Citation:   Citation{FAQID: hit.Entry.ID},
			}}
			return ans, nil
		}
	}

	var emb embedding.Embedding
	emb, err = embed(ctx)
	if err != nil {
		err = s.queryError(ctx, err)
		return nil, err
	}

	var matches []vector.Match
	matches, err = s.index.Query(ctx, emb, topK, minScore)
	if err != nil {
		err = s.queryError(ctx, err)
		return nil, err
	}

	ans.Results, err = s.resolve(ctx, matches)
	if err == nil {
		// Backends that ignore ctx can still overrun the budget.
		err = ctx.Err()
	}
	if err != nil {
		err = s.queryError(ctx, err)
		return nil, err
	}
	return ans, nil
}

func (s *Service) Documents(ctx context.Context) ([]Document, error) {
	return s.catalog.List(ctx)
}

func (s *Service) Document(ctx context.Context, id string) (*Document, []Chunk, error) {
	doc, err := s.catalog.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.catalog.DocumentChunks(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	docs, chunks, err := s.catalog.Counts(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Documents: docs, Chunks: chunks, Vectors: vectors, Model: s.index.Model()}
	if s.faq != nil {
		st.FAQEntries = s.faq.Len()
	}
	return st, nil
}

// resolve joins matches with their chunk text. Matches whose chunk the catalog
// does not know are skipped.
func (s *Service) resolve(ctx context.Context, matches []vector.Match) ([]Result, error) {
	if len(matches) == 0 {
		return []Result{}, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	chunks, err := s.catalog.Chunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		ch, ok := chunks[m.ChunkID]
		if !ok {
			slog.WarnContext(ctx, "skipping search hit",
				"error", fmt.Errorf("%w: %s", ErrIndexInconsistency, m.ChunkID),
				"document_id", m.DocumentID)
			continue
		}
		results = append(results, Result{
			Kind:       ResultChunk,
			Ref:        ch.ID,
			Text:       ch.Text,
			Score:      m.Score,
			Similarity: vector.Describe(m.Score),
			Rank:       len(results) + 1,
			Citation: Citation{
				DocumentID: ch.DocumentID,
				Origin:     ch.Origin,
				CharStart:  ch.CharStart,
				CharEnd:    ch.CharEnd,
			},
		})
	}
	return results, nil
}

func (s *Service) params(ctx context.Context, qo QueryOptions) (int, float32, float32) {
	topK, minScore, threshold := s.opts.TopK, s.opts.MinScore, s.opts.FAQThreshold
	if s.settings != nil {
		cfg, err := s.settings.Get(ctx)
		if err != nil {
			slog.WarnContext(ctx, "settings unavailable, using defaults", "error", err)
		} else {
			topK, minScore, threshold = cfg.TopK, cfg.MinScore, cfg.FAQThreshold
		}
	}
	if qo.TopK != nil {
		topK = *qo.TopK
	}
	if qo.MinScore != nil {
		minScore = *qo.MinScore
	}
	if qo.FAQThreshold != nil {
		threshold = *qo.FAQThreshold
	}
	return topK, minScore, threshold
}

// lazyEmbed embeds the question at most once per query, with one retry.
func (s *Service) lazyEmbed(q string) faq.EmbedFunc {
	var (
		done bool
		emb  embedding.Embedding
		err  error
	)
	return func(ctx context.Context) (embedding.Embedding, error) {
		if done {
			return emb, err
		}
		done = true
		err = s.retry(ctx, 1, func() error {
			var e error
			emb, e = s.gateway.Embed(ctx, q)
			return e
		})
		return emb, err
	}
}

// queryError maps budget and provider failures to ErrRetrievalTimeout.
func (s *Service) queryError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, embedding.ErrProviderUnavailable) {
		return fmt.Errorf("%w: %w", ErrRetrievalTimeout, err)
	}
	return err
}

// chunkVectors returns one vector per chunk, reusing stored vectors and
// embedding the rest in bounded parallel batches.
func (s *Service) chunkVectors(ctx context.Context, chunks []Chunk) ([][]float32, int, error) {
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	cached, err := s.index.Vectors(ctx, ids)
	if err != nil {
		slog.WarnContext(ctx, "vector lookup failed, embedding every chunk", "error", err)
		cached = nil
	}

	vectors := make([][]float32, len(chunks))
	var missing []int
	for i, ch := range chunks {
		if v, ok := cached[ch.ID]; ok {
			vectors[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, len(chunks), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.EmbedConcurrency)
	for from := 0; from < len(missing); from += s.opts.EmbedBatchSize {
		batch := missing[from:min(from+s.opts.EmbedBatchSize, len(missing))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, idx := range batch {
				texts[j] = chunks[idx].Text
			}
			var embs []embedding.Embedding
			err := s.retry(gctx, s.opts.MaxRetries, func() error {
				var e error
				embs, e = s.gateway.EmbedBatch(gctx, texts)
				return e
			})
			if err != nil {
				return err
			}
			for j, idx := range batch {
				vectors[idx] = embs[j].Vector
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return vectors, len(chunks) - len(missing), nil
}

// retry runs op with exponential backoff while it fails with
// ErrProviderUnavailable. Other errors stop immediately.
func (s *Service) retry(ctx context.Context, maxRetries uint64, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if s.opts.RetryInterval > 0 {
		b.InitialInterval = s.opts.RetryInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !errors.Is(err, embedding.ErrProviderUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "embedding provider unavailable, retrying", "error", err, "wait_ms", wait.Milliseconds())
	})
}

func (s *Service) logQuery(ctx context.Context, ans *Answer, err error, d time.Duration) {
	if s.logger == nil {
		return
	}
	entry := QueryLogEntry{Query: ans.Question, Duration: d}
	switch {
	case err != nil:
		entry.Outcome = OutcomeError
		entry.Error = err.Error()
	case ans.FAQHit:
		entry.Outcome = OutcomeFAQ
		entry.FAQID = ans.Results[0].Ref
	case ans.Insufficient():
		entry.Outcome = OutcomeEmpty
	default:
		entry.Outcome = OutcomeChunks
	}
	if err == nil {
		entry.NumResults = len(ans.Results)
		if len(ans.Results) > 0 {
			entry.TopScore = ans.Results[0].Score
		}
	}
	s.logger.Log(ctx, entry)
}

func averageTokens(chunks []Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	total := 0
	for _, ch := range chunks {
		total += ch.TokenCount
	}
	return float64(total) / float64(len(chunks))
}
