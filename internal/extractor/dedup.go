package extractor

import (
	"fmt"
	"path"
	"strings"

	"github.com/rizkirmdhn/memzip/pkg/models"
)

// Deduplicate makes output names unique in encounter order: base.ext, base_1.ext, base_2.ext, ...
//
// A record whose raw name equals a name already emitted, including a generated
// one, is renamed too: a later raw X_1.jpg after a generated X_1.jpg becomes
// X_1_1.jpg. Names stay unique at the cost of altering that record.
func Deduplicate(records []models.Record) []models.Record {
	out := make([]models.Record, len(records))
	counters := make(map[string]int, len(records))
	emitted := make(map[string]struct{}, len(records))

	taken := func(name string) bool {
		_, ok := emitted[name]
		return ok
	}

	for i, rec := range records {
		base := rec.OutputName
		name := base

		// a generated name may collide with a raw one emitted earlier, so keep counting until free
		n, seen := counters[base]
		if seen || taken(name) {
			for {
				n++
				name = suffixed(base, n)
				if !taken(name) {
					break
				}
			}
		}
		counters[base] = n

		emitted[name] = struct{}{}
		rec.OutputName = name
		out[i] = rec
	}

	return out
}

// suffixed inserts _n before the extension of name
func suffixed(name string, n int) string {
	ext := path.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}
