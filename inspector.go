package archivemeta

import (
	"log/slog"

	"github.com/javi11/archivemeta/internal/charset"
)

// DefaultMaxEOCDProbes bounds the backward search for the ZIP trailer.
const DefaultMaxEOCDProbes = 1024

// MaxSevenZipItems caps folder and stream counts in 7z headers.
const MaxSevenZipItems = 8192

// Inspector recognises archive attachments and extracts their metadata. An
// Inspector holds no per-archive state and may be shared between goroutines.
type Inspector struct {
	logger        *slog.Logger
	detector      charset.Detector
	convCacheSize int
	lister        Lister
	maxEOCDProbes int

	norm *Normalizer
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inspector) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithDetector replaces the charset sniffer used for member names.
func WithDetector(d charset.Detector) Option {
	return func(in *Inspector) {
		in.detector = d
	}
}

// WithConverterCacheSize sets how many charset decoders are kept.
func WithConverterCacheSize(n int) Option {
	return func(in *Inspector) {
		in.convCacheSize = n
	}
}

// WithLister sets the fallback used for 7z archives with a compressed
// header. A nil lister disables the fallback.
func WithLister(l Lister) Option {
	return func(in *Inspector) {
		in.lister = l
	}
}

// WithMaxEOCDProbes limits how many offsets are tried when looking for the
// ZIP end of central directory record.
func WithMaxEOCDProbes(n int) Option {
	return func(in *Inspector) {
		if n > 0 {
			in.maxEOCDProbes = n
		}
	}
}

// New returns an Inspector configured by opts.
func New(opts ...Option) *Inspector {
	in := &Inspector{
		logger:        discardLogger(),
		lister:        SevenZipLister{},
		maxEOCDProbes: DefaultMaxEOCDProbes,
	}
	for _, o := range opts {
		o(in)
	}
	in.norm = NewNormalizer(in.detector, charset.NewConverters(in.convCacheSize), in.logger)
	return in
}

// Normalizer returns the member name normalizer used by the readers.
func (in *Inspector) Normalizer() *Normalizer { return in.norm }

func (in *Inspector) newBuilder(t Type, declaredName string) *builder {
	return newBuilder(t, declaredName, in.norm)
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }
