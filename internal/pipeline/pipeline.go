package pipeline

import (
	"go.uber.org/zap"
)

// Pipeline chains loading, normalization and chunking.
type Pipeline struct {
	Loader     *Loader
	Normalizer *Normalizer
	Splitter   *Splitter
}

// Options tunes the pipeline stages.
type Options struct {
	MaxFileBytes     int64
	ChunkChars       int
	ChunkOverlap     int
	MinChunkChars    int
	ExtractTables    bool
	TableMinAccuracy float64
}

// New builds a pipeline from options, applying the documented defaults for
// zero values.
func New(opts Options, logger *zap.Logger) *Pipeline {
	if opts.ChunkChars == 0 {
		opts.ChunkChars = 1024
	}
	if opts.ChunkOverlap == 0 {
		opts.ChunkOverlap = 100
	}
	if opts.MinChunkChars == 0 {
		opts.MinChunkChars = 50
	}
	if opts.TableMinAccuracy == 0 {
		opts.TableMinAccuracy = 80.0
	}
	if opts.MaxFileBytes == 0 {
		opts.MaxFileBytes = 50 << 20
	}

	return &Pipeline{
		Loader:     NewLoader(opts.MaxFileBytes, opts.ExtractTables, opts.TableMinAccuracy, logger),
		Normalizer: &Normalizer{},
		Splitter:   NewSplitter(opts.ChunkChars, opts.ChunkOverlap, opts.MinChunkChars),
	}
}

// Process loads path, normalizes, and chunks. It returns the chunks and
// the number of documents loaded before chunking (pages for PDF).
func (p *Pipeline) Process(path string) (chunks []Document, loaded int, err error) {
	docs, err := p.Loader.Load(path)
	if err != nil {
		return nil, 0, err
	}
	normalized := p.Normalizer.Normalize(docs)
	return p.Splitter.Split(normalized), len(normalized), nil
}
