package license

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Parser turns a license status dump into Features. A Parser holds no mutable state and
// is safe for concurrent use.
type Parser struct {
	now func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock sets the clock used to stamp UserSession.ObservedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// NewParser creates a Parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultParser = NewParser()

// Parse reads a status dump with the default parser.
func Parse(r io.Reader, tool string) ([]Feature, error) {
	return defaultParser.Parse(r, tool)
}

// ParseFile reads and parses the status dump at path with the default parser.
func ParseFile(path, tool string) ([]Feature, error) {
	return defaultParser.ParseFile(path, tool)
}

// ParseFile reads and parses the status dump at path. It fails only if the file cannot
// be read; malformed lines are skipped.
func (p *Parser) ParseFile(path, tool string) ([]Feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileUnreadable, path, err)
	}
	defer f.Close()

	features, err := p.Parse(f, tool)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileUnreadable, path, err)
	}
	return features, nil
}

// Parse scans r line by line. Features are returned in header order and sessions in
// line order. The only error is a failure to read r.
func (p *Parser) Parse(r io.Reader, tool string) ([]Feature, error) {
	features := []Feature{}
	var open *Feature

	finalize := func() {
		if open != nil {
			features = append(features, *open)
			open = nil
		}
	}

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			m := MatchLine(line, open != nil)
			switch m.Kind {
			case HeaderMatch:
				finalize()
				open = newFeature(m.Header, tool)
			case SectionEndMatch:
				finalize()
			case MetadataMatch:
				open.Version = m.Metadata.Version
				open.Expiry = m.Metadata.Expiry
			case StrictSessionMatch, LooseSessionMatch:
				s := m.Session
				s.ObservedAt = p.now()
				open.addSession(s)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	finalize()
	return features, nil
}
