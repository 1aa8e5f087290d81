package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/detect"
	"github.com/JonMunkholm/healthingest/internal/parser/fields"
)

// Tabular parses delimited text with a header row. The delimiter is
// sniffed per file from the header line.
type Tabular struct {
	classify Classifier
}

// Parse implements Parser.
//
// Column-count mismatches are warnings: the row is zipped against the
// header as far as both go, and the validator decides whether the record
// is still complete.
func (p *Tabular) Parse(ctx context.Context, text string, hint core.DomainType) Result {
	var c collector

	delim, _ := detect.SniffDelimiter(detect.FirstLine(text))
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = delim != '\t'

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return c.res
	}
	if err != nil {
		c.errorf("header: %v", err)
		return c.res
	}

	domain := hint
	if !domain.Known() && p.classify != nil {
		domain, _ = p.classify.Fingerprint(cleanHeader(header), core.DomainUnknown)
	}
	if !domain.Known() {
		c.errorf("header: cannot determine data type from columns %s", strings.Join(cleanHeader(header), ", "))
		return c.res
	}

	names := fields.CanonicalAll(domain, cleanHeader(header))
	if dup := duplicates(names); len(dup) > 0 {
		c.warnf("header: duplicate columns %s; first occurrence used", strings.Join(dup, ", "))
	}

	for {
		if c.cancelled(ctx) {
			break
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				c.errorf("row %d: %v", perr.StartLine, perr.Err)
				continue
			}
			c.errorf("read: %v", err)
			break
		}
		line, _ := r.FieldPos(0)
		if blankRow(row) {
			continue
		}
		if len(row) != len(names) {
			c.warnf("row %d: expected %d columns, got %d", line, len(names), len(row))
		}

		rec := core.NewRecord(domain, fmt.Sprintf("row %d", line))
		for i := 0; i < len(row) && i < len(names); i++ {
			setField(rec, names[i], row[i])
		}
		c.add(rec)
	}
	return c.res
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = core.CleanCell(h)
	}
	return out
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func duplicates(names []string) []string {
	seen := make(map[string]bool, len(names))
	var dup []string
	for _, n := range names {
		if n == "" {
			continue
		}
		if seen[n] {
			dup = append(dup, n)
		}
		seen[n] = true
	}
	return dup
}
