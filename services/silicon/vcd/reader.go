// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcd

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// maxTokenSize bounds a single VCD token. Vector values for very wide
// buses stay well under this.
const maxTokenSize = 1 << 20

// ReadFile parses the trace artifact at path.
//
// Description:
//
//	Opens and parses a VCD file. A missing artifact is reported as a
//	format error because callers only ask for a trace the build outcome
//	claims to exist; absence at that point is an environment defect.
//
// Inputs:
//
//	path - Path to the trace artifact.
//
// Outputs:
//
//	*Timeline - The parsed timeline.
//	error - Wraps ErrTraceFormat on any structural problem.
func ReadFile(path string) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open trace artifact: %v", ErrTraceFormat, err)
	}
	defer f.Close()
	tl, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tl, nil
}

// Read parses a VCD stream into a Timeline.
//
// Description:
//
//	Parses the header (signal declarations, widths, timescale) followed
//	by the time-ordered value-change stream. The resulting timeline is a
//	flat chronological projection across all signals; no semantic
//	interpretation happens here.
//
// Outputs:
//
//	*Timeline - The parsed timeline. Never nil on success.
//	error - Wraps ErrTraceFormat when the stream is truncated or
//	        structurally invalid (e.g. a value wider than its declaration).
func Read(r io.Reader) (*Timeline, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxTokenSize)
	sc.Split(bufio.ScanWords)

	p := &parser{
		sc: sc,
		tl: &Timeline{
			byCode: make(map[string]int),
			perSig: make(map[string][]int),
		},
	}

	if err := p.header(); err != nil {
		return nil, err
	}
	if err := p.body(); err != nil {
		return nil, err
	}

	slog.Debug("Parsed trace artifact",
		slog.Int("signals", len(p.tl.Signals)),
		slog.Int("changes", len(p.tl.Changes)),
		slog.Uint64("end_time", p.tl.EndTime),
	)
	return p.tl, nil
}

type parser struct {
	sc    *bufio.Scanner
	tl    *Timeline
	scope []string
}

func (p *parser) fail(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTraceFormat, fmt.Sprintf(format, args...))
}

// next returns the next token, or ok=false at end of stream.
func (p *parser) next() (string, bool) {
	if !p.sc.Scan() {
		return "", false
	}
	return p.sc.Text(), true
}

// skipToEnd discards tokens through the closing $end of a header section.
func (p *parser) skipToEnd(section string) error {
	for {
		tok, ok := p.next()
		if !ok {
			return p.fail("unterminated %s section", section)
		}
		if tok == "$end" {
			return nil
		}
	}
}

// collectToEnd gathers tokens through the closing $end of a section.
func (p *parser) collectToEnd(section string) (string, error) {
	var parts []string
	for {
		tok, ok := p.next()
		if !ok {
			return "", p.fail("unterminated %s section", section)
		}
		if tok == "$end" {
			return strings.Join(parts, " "), nil
		}
		parts = append(parts, tok)
	}
}

// header parses declarations through $enddefinitions.
func (p *parser) header() error {
	for {
		tok, ok := p.next()
		if !ok {
			return p.fail("missing $enddefinitions")
		}
		switch tok {
		case "$enddefinitions":
			if err := p.skipToEnd("$enddefinitions"); err != nil {
				return err
			}
			if len(p.tl.Signals) == 0 {
				return p.fail("no signals declared")
			}
			return nil
		case "$timescale":
			ts, err := p.collectToEnd("$timescale")
			if err != nil {
				return err
			}
			p.tl.Timescale = ts
		case "$scope":
			decl, err := p.collectToEnd("$scope")
			if err != nil {
				return err
			}
			fields := strings.Fields(decl)
			if len(fields) != 2 {
				return p.fail("malformed $scope declaration %q", decl)
			}
			p.scope = append(p.scope, fields[1])
		case "$upscope":
			if err := p.skipToEnd("$upscope"); err != nil {
				return err
			}
			if len(p.scope) == 0 {
				return p.fail("$upscope without matching $scope")
			}
			p.scope = p.scope[:len(p.scope)-1]
		case "$var":
			if err := p.varDecl(); err != nil {
				return err
			}
		case "$date", "$version", "$comment":
			if err := p.skipToEnd(tok); err != nil {
				return err
			}
		default:
			return p.fail("unexpected token %q in header", tok)
		}
	}
}

// varDecl parses one $var declaration: type width code name [range] $end.
func (p *parser) varDecl() error {
	decl, err := p.collectToEnd("$var")
	if err != nil {
		return err
	}
	fields := strings.Fields(decl)
	if len(fields) < 4 {
		return p.fail("malformed $var declaration %q", decl)
	}
	width, err := strconv.Atoi(fields[1])
	if err != nil || width <= 0 {
		return p.fail("invalid width %q in $var declaration", fields[1])
	}
	code := fields[2]
	name := fields[3]
	// Optional bit range ([7:0]) follows the name as a separate token.
	if len(fields) >= 5 && strings.HasPrefix(fields[4], "[") {
		name += fields[4]
	}
	if len(p.scope) > 0 {
		name = strings.Join(p.scope, ".") + "." + name
	}

	if prev, ok := p.tl.byCode[code]; ok {
		// The same code may be declared twice as an alias; widths must agree.
		if p.tl.Signals[prev].Width != width {
			return p.fail("identifier %q redeclared with width %d (was %d)",
				code, width, p.tl.Signals[prev].Width)
		}
		return nil
	}

	p.tl.byCode[code] = len(p.tl.Signals)
	p.tl.Signals = append(p.tl.Signals, Signal{
		Code:  code,
		Name:  name,
		Width: width,
		Type:  fields[0],
	})
	return nil
}

// body parses the value-change stream after $enddefinitions.
func (p *parser) body() error {
	var now uint64
	sawTime := false
	for {
		tok, ok := p.next()
		if !ok {
			return nil
		}
		switch {
		case strings.HasPrefix(tok, "#"):
			t, err := strconv.ParseUint(tok[1:], 10, 64)
			if err != nil {
				return p.fail("invalid timestamp %q", tok)
			}
			if sawTime && t < now {
				return p.fail("timestamp %d goes backward from %d", t, now)
			}
			if !sawTime || t != now {
				p.tl.timesAsc = append(p.tl.timesAsc, t)
			}
			now = t
			sawTime = true
			p.tl.EndTime = t
		case tok == "$dumpvars" || tok == "$dumpall" || tok == "$dumpon" ||
			tok == "$dumpoff" || tok == "$end":
			// Dump control markers; the enclosed records parse as usual.
		case tok == "$comment":
			if err := p.skipToEnd("$comment"); err != nil {
				return err
			}
		case tok[0] == 'b' || tok[0] == 'B':
			if err := p.vectorChange(tok, now, &sawTime); err != nil {
				return err
			}
		case tok[0] == 'r' || tok[0] == 'R':
			if err := p.realChange(tok, now, &sawTime); err != nil {
				return err
			}
		case isScalarValue(tok[0]):
			if err := p.scalarChange(tok, now, &sawTime); err != nil {
				return err
			}
		default:
			return p.fail("unexpected token %q in value-change stream", tok)
		}
	}
}

func isScalarValue(c byte) bool {
	switch c {
	case '0', '1', 'x', 'X', 'z', 'Z':
		return true
	}
	return false
}

// record appends a validated change. Callers have already resolved the
// identifier against the declaration table.
func (p *parser) record(code, value string, now uint64, sawTime *bool) error {
	if !*sawTime {
		// Initial $dumpvars values before the first timestamp land at 0.
		p.tl.timesAsc = append(p.tl.timesAsc, 0)
		*sawTime = true
	}
	p.tl.perSig[code] = append(p.tl.perSig[code], len(p.tl.Changes))
	p.tl.Changes = append(p.tl.Changes, Change{Time: now, Code: code, Value: value})
	return nil
}

func (p *parser) scalarChange(tok string, now uint64, sawTime *bool) error {
	if len(tok) < 2 {
		return p.fail("truncated scalar change %q", tok)
	}
	code := tok[1:]
	idx, ok := p.tl.byCode[code]
	if !ok {
		return p.fail("value change for undeclared identifier %q", code)
	}
	if p.tl.Signals[idx].Width != 1 {
		return p.fail("scalar change for %d-bit signal %q",
			p.tl.Signals[idx].Width, p.tl.Signals[idx].Name)
	}
	return p.record(code, strings.ToLower(tok[:1]), now, sawTime)
}

func (p *parser) vectorChange(tok string, now uint64, sawTime *bool) error {
	bits := strings.ToLower(tok[1:])
	if bits == "" {
		return p.fail("empty vector value")
	}
	for i := 0; i < len(bits); i++ {
		if !isScalarValue(bits[i]) {
			return p.fail("invalid bit %q in vector value %q", bits[i], tok)
		}
	}
	code, ok := p.next()
	if !ok {
		return p.fail("truncated vector change %q: missing identifier", tok)
	}
	idx, declared := p.tl.byCode[code]
	if !declared {
		return p.fail("value change for undeclared identifier %q", code)
	}
	width := p.tl.Signals[idx].Width
	if len(bits) > width {
		return p.fail("value %q wider than declared width %d of %q",
			bits, width, p.tl.Signals[idx].Name)
	}
	return p.record(code, extend(bits, width), now, sawTime)
}

func (p *parser) realChange(tok string, now uint64, sawTime *bool) error {
	val := tok[1:]
	if _, err := strconv.ParseFloat(val, 64); err != nil {
		return p.fail("invalid real value %q", tok)
	}
	code, ok := p.next()
	if !ok {
		return p.fail("truncated real change %q: missing identifier", tok)
	}
	if _, declared := p.tl.byCode[code]; !declared {
		return p.fail("value change for undeclared identifier %q", code)
	}
	return p.record(code, val, now, sawTime)
}

// extend left-extends a vector value to the declared width following the
// VCD rules: '0' and '1' extend with '0', 'x' and 'z' extend with
// themselves. The symbolic states must survive extension bit-exactly.
func extend(bits string, width int) string {
	if len(bits) >= width {
		return bits
	}
	fill := byte('0')
	if bits[0] == 'x' || bits[0] == 'z' {
		fill = bits[0]
	}
	return strings.Repeat(string(fill), width-len(bits)) + bits
}
