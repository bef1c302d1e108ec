package symbol

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
)

const (
	KallsymsProcEntry = "/proc/kallsyms"
	LRUCacheSize      = 128

	kernelAddrMask = uint64(0xFFFF800000000000)
)

type KsymRecord struct {
	Addr   uint64
	Symbol string
	Module string
}

// KsymCache resolves kernel addresses against a sorted kallsyms snapshot.
type KsymCache struct {
	mutex       sync.Mutex
	ksymRecords []KsymRecord
	cache       *lru.Cache
}

// IsKernelAddress reports whether addr lies in the upper canonical half.
func IsKernelAddress(addr uint64) bool {
	return addr&kernelAddrMask == kernelAddrMask
}

func NewKsymCache() (*KsymCache, error) {
	fp, err := os.Open(KallsymsProcEntry)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	return LoadKsymCache(fp)
}

// LoadKsymCache builds a cache from kallsyms formatted text. Data symbols
// and unparsable lines are skipped.
func LoadKsymCache(reader io.Reader) (*KsymCache, error) {
	ksymCache := &KsymCache{
		ksymRecords: []KsymRecord{},
		cache:       lru.New(LRUCacheSize),
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		record, ok := parseKsymLine(scanner.Text())
		if !ok {
			continue
		}
		ksymCache.ksymRecords = append(ksymCache.ksymRecords, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if allZero(ksymCache.ksymRecords) {
		logrus.Warnf("Kernel symbol addresses are hidden, kernel addresses stay unknown")
		ksymCache.ksymRecords = []KsymRecord{}
	}

	sort.SliceStable(ksymCache.ksymRecords, func(i, j int) bool {
		return ksymCache.ksymRecords[i].Addr < ksymCache.ksymRecords[j].Addr
	})
	return ksymCache, nil
}

// allZero reports a table read under kptr_restrict, where every address
// shows as 0.
func allZero(records []KsymRecord) bool {
	for _, record := range records {
		if record.Addr != 0 {
			return false
		}
	}
	return len(records) > 0
}

// parseKsymLine parses "addr type name [module]".
func parseKsymLine(line string) (KsymRecord, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return KsymRecord{}, false
	}

	addr, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		logrus.Debugf("Failed to parse kallsym line [%s], err [%s]", line, err)
		return KsymRecord{}, false
	}

	switch strings.ToLower(fields[1]) {
	case "b", "d", "r":
		return KsymRecord{}, false
	}

	record := KsymRecord{Addr: addr, Symbol: fields[2]}
	if len(fields) > 3 {
		record.Module = strings.Trim(fields[3], "[]")
	}
	return record, true
}

func (cache *KsymCache) Len() int {
	return len(cache.ksymRecords)
}

func (cache *KsymCache) searchSymbol(addr uint64) string {
	idx := sort.Search(len(cache.ksymRecords), func(i int) bool { return addr < cache.ksymRecords[i].Addr })
	if idx == 0 {
		return ""
	}
	record := cache.ksymRecords[idx-1]
	if record.Module != "" {
		return record.Symbol + " [" + record.Module + "]"
	}
	return record.Symbol
}

// Resolve returns the nearest symbol at or below addr, suffixed with its
// module when it has one, or "" when addr precedes every symbol.
func (cache *KsymCache) Resolve(addr uint64) string {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if symbol, ok := cache.cache.Get(addr); ok {
		return symbol.(string)
	}
	symbol := cache.searchSymbol(addr)
	cache.cache.Add(addr, symbol)
	return symbol
}
