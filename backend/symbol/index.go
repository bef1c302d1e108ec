package symbol

import (
	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"tauphi/backend/perf"
)

const btreeDegree = 16

// ResolvedSample carries the sample unchanged, the symbol of its IP and one
// symbol per call chain entry. Unknown addresses are nil.
type ResolvedSample struct {
	Sample    perf.Sample   `json:"sample"`
	IP        *FuncSymbol   `json:"ip"`
	Callchain []*FuncSymbol `json:"callchain"`
}

type regionItem struct {
	begin      uint64
	end        uint64
	offset     uint64
	translator int
}

func lessRegion(a, b regionItem) bool {
	return a.end < b.end
}

type indexOptions struct {
	command CommandFunc
	ksyms   *KsymCache
	metrics *Metrics
}

type IndexOption func(*indexOptions)

func WithCommand(command CommandFunc) IndexOption {
	return func(opts *indexOptions) { opts.command = command }
}

// WithKsyms resolves kernel addresses that fall outside every region.
func WithKsyms(ksyms *KsymCache) IndexOption {
	return func(opts *indexOptions) { opts.ksyms = ksyms }
}

func WithMetrics(metrics *Metrics) IndexOption {
	return func(opts *indexOptions) { opts.metrics = metrics }
}

// Index maps addresses of one memory map snapshot to symbols. Regions are
// assumed not to overlap. An Index is immutable once built and safe for
// concurrent use.
type Index struct {
	session     string
	regions     *btree.BTreeG[regionItem]
	translators []*Translator
	ksyms       *KsymCache
	metrics     *Metrics
	logger      *logrus.Entry
}

func NewIndex(regions []MappedRegion, opts ...IndexOption) *Index {
	options := indexOptions{command: Addr2Line(DefaultTranslatorTool)}
	for _, opt := range opts {
		opt(&options)
	}
	if options.metrics == nil {
		options.metrics = NewMetrics(nil)
	}

	session := uuid.NewString()
	index := &Index{
		session: session,
		regions: btree.NewG(btreeDegree, lessRegion),
		ksyms:   options.ksyms,
		metrics: options.metrics,
		logger:  logrus.WithField("session", session),
	}

	byPath := map[string]int{}
	for _, region := range regions {
		item := regionItem{
			begin:      region.Begin,
			end:        region.End,
			offset:     region.Offset,
			translator: -1,
		}
		if region.IsFile() {
			idx, ok := byPath[region.Path]
			if !ok {
				idx = len(index.translators)
				byPath[region.Path] = idx
				translator := NewTranslator(region.Path, options.command, options.metrics)
				translator.logger = index.logger.WithField("file", region.Path)
				index.translators = append(index.translators, translator)
			}
			item.translator = idx
		}
		if replaced, ok := index.regions.ReplaceOrInsert(item); ok {
			index.logger.Warnf("Region [0x%x-0x%x] replaced by [0x%x-0x%x] with the same end",
				replaced.begin, replaced.end, item.begin, item.end)
		}
	}

	index.logger.Debugf("Built symbol index with [%d] regions, [%d] translators",
		index.regions.Len(), len(index.translators))
	return index
}

func (index *Index) Session() string {
	return index.session
}

// Len returns the number of regions.
func (index *Index) Len() int {
	return index.regions.Len()
}

// Translators returns the number of pooled translators, one per file.
func (index *Index) Translators() int {
	return len(index.translators)
}

func (index *Index) Paths() []string {
	paths := make([]string, 0, len(index.translators))
	for _, translator := range index.translators {
		paths = append(paths, translator.Path())
	}
	return paths
}

// lookup returns the region with the smallest end above ip, provided it
// also starts at or below ip.
func (index *Index) lookup(ip uint64) (regionItem, bool) {
	var found regionItem
	var ok bool

	if ip == ^uint64(0) {
		return found, false
	}
	index.regions.AscendGreaterOrEqual(regionItem{end: ip + 1}, func(item regionItem) bool {
		found, ok = item, true
		return false
	})
	if !ok || found.begin > ip {
		return found, false
	}
	return found, true
}

// Resolve returns the symbol for ip, or nil when it is unknown.
func (index *Index) Resolve(ip uint64) *FuncSymbol {
	if perf.IsContextMarker(ip) {
		return nil
	}

	region, ok := index.lookup(ip)
	if !ok {
		return index.resolveKernel(ip)
	}
	if region.translator < 0 {
		index.metrics.UnknownSymbols.Inc()
		return nil
	}

	symbol, err := index.translators[region.translator].Translate(ip - region.begin + region.offset)
	if err != nil || symbol == nil {
		index.metrics.UnknownSymbols.Inc()
		return nil
	}
	index.metrics.KnownSymbols.Inc()
	return symbol
}

func (index *Index) resolveKernel(ip uint64) *FuncSymbol {
	if index.ksyms == nil || !IsKernelAddress(ip) {
		index.metrics.UnknownRegions.Inc()
		return nil
	}

	name := index.ksyms.Resolve(ip)
	if name == "" {
		index.metrics.UnknownSymbols.Inc()
		return nil
	}
	index.metrics.KnownSymbols.Inc()
	return &FuncSymbol{Name: name}
}

// ResolveSample resolves the IP and every call chain entry by position.
func (index *Index) ResolveSample(sample perf.Sample) ResolvedSample {
	resolved := ResolvedSample{
		Sample:    sample,
		IP:        index.Resolve(sample.IP),
		Callchain: make([]*FuncSymbol, len(sample.Callchain)),
	}
	for i, ip := range sample.Callchain {
		resolved.Callchain[i] = index.Resolve(ip)
	}
	return resolved
}

// Close tears down every translator.
func (index *Index) Close() error {
	var result *multierror.Error
	for _, translator := range index.translators {
		if err := translator.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
