package refdata

import (
	"sort"

	"github.com/jwpark-dev/vi-monitor/internal/model"
)

// Store is the immutable symbol table. Safe for concurrent reads.
type Store struct {
	byCode map[string]model.StockInfo
	codes  []string
}

// NewStore builds a Store from a symbol list.
func NewStore(infos []model.StockInfo) *Store {
	byCode := make(map[string]model.StockInfo, len(infos))
	codes := make([]string, 0, len(infos))
	for _, info := range infos {
		if _, dup := byCode[info.Code]; !dup {
			codes = append(codes, info.Code)
		}
		byCode[info.Code] = info
	}
	sort.Strings(codes)

	return &Store{byCode: byCode, codes: codes}
}

// Lookup returns the reference data for one symbol code.
func (s *Store) Lookup(code string) (model.StockInfo, bool) {
	info, ok := s.byCode[code]
	return info, ok
}

// Len returns the number of symbols.
func (s *Store) Len() int {
	return len(s.byCode)
}

// Codes returns all symbol codes in ascending order.
func (s *Store) Codes() []string {
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}
