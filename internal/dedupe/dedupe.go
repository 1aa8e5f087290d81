// Package dedupe finds incoming records that share a natural key with a
// stored record or with an earlier record in the same batch, and applies
// the resolution chosen for each.
//
// Resolution is always explicit. Nothing is written for a batch while any
// candidate is still Pending; the only batch-wide shortcuts are the bulk
// actions SkipAll and Force.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
)

var (
	// ErrUnresolved is returned when a batch still has Pending candidates.
	ErrUnresolved = errors.New("duplicate candidates are unresolved")
	// ErrInvalidResolution is returned for Pending or unknown resolutions.
	ErrInvalidResolution = errors.New("invalid resolution")
	// ErrUnknownAction is returned for unknown bulk actions.
	ErrUnknownAction = errors.New("unknown bulk action")
)

// batchRefPrefix marks an existing reference that points at an earlier
// record of the same batch.
const batchRefPrefix = "batch:"

// Lookup finds a stored record by natural key. core.Store satisfies it.
type Lookup interface {
	FindExistingByNaturalKey(ctx context.Context, t core.DomainType, key string) (*core.ExistingRecord, error)
}

// FindDuplicates returns one candidate per incoming record whose natural
// key matches an earlier record in the batch or a stored record. Batch
// matches are checked first. lookup may be nil to check the batch only.
func FindDuplicates(ctx context.Context, incoming []*core.Record, lookup Lookup) ([]core.DuplicateCandidate, error) {
	var out []core.DuplicateCandidate
	first := make(map[string]int)

	for i, r := range incoming {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		key, ok := core.NaturalKey(r)
		if !ok {
			continue
		}
		scoped := string(r.Type) + "|" + key

		if j, seen := first[scoped]; seen {
			out = append(out, newCandidate(i, r, incoming[j], batchRefPrefix+strconv.Itoa(j), key))
			continue
		}
		first[scoped] = i

		if lookup == nil {
			continue
		}
		existing, err := lookup.FindExistingByNaturalKey(ctx, r.Type, key)
		if err != nil {
			return out, fmt.Errorf("lookup %s %s: %w", r.Type, key, err)
		}
		if existing != nil && existing.Record != nil {
			out = append(out, newCandidate(i, r, existing.Record, existing.Ref, key))
		}
	}
	return out, nil
}

func newCandidate(i int, incoming, existing *core.Record, ref, key string) core.DuplicateCandidate {
	conf, differing := Compare(incoming, existing)
	return core.DuplicateCandidate{
		Index:       i,
		Incoming:    incoming,
		Existing:    existing,
		ExistingRef: ref,
		NaturalKey:  key,
		Confidence:  conf,
		Differing:   differing,
		Resolution:  core.ResolutionPending,
	}
}

// Compare scores how alike two records are. Confidence is the percentage
// of non-key fields present in both records whose values are equal
// (trimmed, case-insensitive); it is 100 when no such field exists.
// differing lists every non-key field whose values differ, including
// fields present on only one side.
func Compare(incoming, existing *core.Record) (float64, []string) {
	keys := make(map[string]bool)
	for _, k := range core.KeyFields(incoming.Type) {
		keys[k] = true
	}

	names := make(map[string]bool)
	for k := range incoming.Fields {
		names[k] = true
	}
	for k := range existing.Fields {
		names[k] = true
	}

	compared, equal := 0, 0
	var differing []string
	for name := range names {
		if keys[name] {
			continue
		}
		a, b := incoming.Has(name), existing.Has(name)
		switch {
		case a && b:
			compared++
			if strings.EqualFold(strings.TrimSpace(incoming.Get(name)), strings.TrimSpace(existing.Get(name))) {
				equal++
			} else {
				differing = append(differing, name)
			}
		case a || b:
			differing = append(differing, name)
		}
	}
	sort.Strings(differing)

	if compared == 0 {
		return 100, differing
	}
	return math.Round(float64(equal)/float64(compared)*10000) / 100, differing
}

// ApplyResolution returns the record that results from resolving c with
// res. KeepExisting returns the existing record unchanged; Replace returns
// the incoming record marked to overwrite; Merge overlays non-blank
// incoming values onto the existing record; Skip returns nil. Only
// Replace and Merge results need writing.
func ApplyResolution(c core.DuplicateCandidate, res core.Resolution) (*core.Record, error) {
	switch res {
	case core.ResolutionKeepExisting:
		return c.Existing.Clone(), nil
	case core.ResolutionReplace:
		out := c.Incoming.Clone()
		out.Overwrite = true
		return out, nil
	case core.ResolutionMerge:
		out := c.Existing.Clone()
		out.Fields = core.MergeFields(c.Existing.Fields, c.Incoming.Fields)
		out.Source = c.Incoming.Source
		return out, nil
	case core.ResolutionSkip:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, res)
	}
}

// Bulk actions.
const (
	ActionSkipAll = "skip_all"
	ActionForce   = "force"
)

// ResolveAll sets every Pending candidate: SkipAll skips them and Force
// replaces with the incoming record. Already resolved candidates keep
// their resolution. It returns the number of candidates changed.
func ResolveAll(cands []core.DuplicateCandidate, action string) (int, error) {
	var res core.Resolution
	switch action {
	case ActionSkipAll:
		res = core.ResolutionSkip
	case ActionForce:
		res = core.ResolutionReplace
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	n := 0
	for i := range cands {
		if cands[i].Resolution == core.ResolutionPending {
			cands[i].Resolution = res
			n++
		}
	}
	return n, nil
}

// Unresolved counts Pending candidates.
func Unresolved(cands []core.DuplicateCandidate) int {
	n := 0
	for _, c := range cands {
		if c.Resolution == core.ResolutionPending {
			n++
		}
	}
	return n
}

// Plan computes the records to write for a batch once every candidate is
// resolved. Records without a candidate are written as they are. A batch
// match resolved with Replace or Merge rewrites the earlier record's slot;
// KeepExisting and Skip drop the later record. skipped counts incoming
// records that will not be written.
func Plan(records []*core.Record, cands []core.DuplicateCandidate) (writes []*core.Record, skipped int, err error) {
	if n := Unresolved(cands); n > 0 {
		return nil, 0, fmt.Errorf("%w: %d pending", ErrUnresolved, n)
	}

	slots := make([]*core.Record, len(records))
	copy(slots, records)

	sorted := append([]core.DuplicateCandidate(nil), cands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for _, c := range sorted {
		if c.Index < 0 || c.Index >= len(slots) {
			return nil, 0, fmt.Errorf("candidate index %d out of range", c.Index)
		}
		target, inBatch := batchTarget(c.ExistingRef)
		if inBatch && target >= len(slots) {
			return nil, 0, fmt.Errorf("candidate %d: batch reference %d out of range", c.Index, target)
		}
		if inBatch && slots[target] != nil {
			// Resolve against the current state of the earlier slot.
			c.Existing = slots[target]
		}
		out, err := ApplyResolution(c, c.Resolution)
		if err != nil {
			return nil, 0, fmt.Errorf("candidate %d: %w", c.Index, err)
		}
		slots[c.Index] = nil

		switch {
		case !c.Resolution.Writes():
			skipped++
		case inBatch:
			slots[target] = out
			skipped++
		default:
			slots[c.Index] = out
		}
	}

	for _, r := range slots {
		if r != nil {
			writes = append(writes, r)
		}
	}
	return writes, skipped, nil
}

func batchTarget(ref string) (int, bool) {
	if !strings.HasPrefix(ref, batchRefPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(ref, batchRefPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
