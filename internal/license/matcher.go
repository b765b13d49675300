package license

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// MatchKind classifies a single line of a status dump.
type MatchKind int

const (
	NoMatch MatchKind = iota
	HeaderMatch
	MetadataMatch
	StrictSessionMatch
	LooseSessionMatch
	SectionEndMatch
)

func (k MatchKind) String() string {
	switch k {
	case HeaderMatch:
		return "header"
	case MetadataMatch:
		return "metadata"
	case StrictSessionMatch:
		return "strict-session"
	case LooseSessionMatch:
		return "loose-session"
	case SectionEndMatch:
		return "section-end"
	default:
		return "none"
	}
}

// Header holds the fields of a "Users of <feature>: (...)" line.
type Header struct {
	Name        string
	TotalIssued int
	TotalInUse  int
}

// Metadata holds the version and expiry attached to the open feature.
type Metadata struct {
	Label   string
	Version string
	Expiry  string
}

// Match is the result of classifying one line. Only the field matching Kind is set.
type Match struct {
	Kind     MatchKind
	Header   Header
	Metadata Metadata
	Session  UserSession
}

var (
	headerPattern   = regexp.MustCompile(`Users of ([^:]+):\s*\(Total of (\d+) licenses? issued;\s*Total of (\d+) licenses? in use\)`)
	metadataPattern = regexp.MustCompile(`"([^"]+)"\s+v([^,]+),.*expiry:\s*([^,\s]+)`)

	// user host [display:]port (vVERSION) (server/port PID), start WHEN
	strictSessionPattern = regexp.MustCompile(`^\s*(\S+)\s+(\S+)\s+(?:\S*:\s*)?(\S+)\s+\(v([^)]+)\)\s+\([^)]*\s(\d+)\),\s*start\s+(.+)$`)
	looseSessionPattern  = regexp.MustCompile(`^\s*(\S+)\s+(\S+)`)
)

// sectionPrefix starts every feature section line, counted or not.
const sectionPrefix = "Users of "

// minSessionIndent is the indentation below which a line is never a session line.
const minSessionIndent = 4

type lineMatcher struct {
	kind        MatchKind
	needsOpen   bool
	sessionLine bool
	match       func(line, trimmed string) (Match, bool)
}

// matchers is the cascade, in priority order.
var matchers = []lineMatcher{
	{kind: HeaderMatch, match: matchHeader},
	{kind: SectionEndMatch, match: matchSectionEnd},
	{kind: MetadataMatch, needsOpen: true, match: matchMetadata},
	{kind: StrictSessionMatch, needsOpen: true, sessionLine: true, match: matchStrictSession},
	{kind: LooseSessionMatch, needsOpen: true, sessionLine: true, match: matchLooseSession},
}

// MatchLine classifies line, which must keep its original leading whitespace.
// featureOpen reports whether the parser currently has an open feature section;
// metadata and session lines are ignored without one.
func MatchLine(line string, featureOpen bool) Match {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Match{Kind: NoMatch}
	}
	candidate := isSessionCandidate(line)

	for _, m := range matchers {
		if m.needsOpen && !featureOpen {
			continue
		}
		if m.sessionLine && !candidate {
			continue
		}
		if res, ok := m.match(line, trimmed); ok {
			return res
		}
	}
	return Match{Kind: NoMatch}
}

// isSessionCandidate is the cheap pre-filter applied before either session pattern.
func isSessionCandidate(line string) bool {
	return leadingSpace(line) >= minSessionIndent &&
		strings.Contains(line, "(v") &&
		strings.Contains(line, "start")
}

func leadingSpace(line string) int {
	n := 0
	for _, r := range line {
		if !unicode.IsSpace(r) {
			break
		}
		n++
	}
	return n
}

func matchHeader(_, trimmed string) (Match, bool) {
	m := headerPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Match{}, false
	}
	issued, err := strconv.Atoi(m[2])
	if err != nil {
		return Match{}, false
	}
	inUse, err := strconv.Atoi(m[3])
	if err != nil {
		return Match{}, false
	}
	return Match{
		Kind: HeaderMatch,
		Header: Header{
			Name:        m[1],
			TotalIssued: issued,
			TotalInUse:  inUse,
		},
	}, true
}

// matchSectionEnd catches section lines without counts, such as
// "(Uncounted, node-locked)" or "(Error: ...)". They close the open feature so their
// sessions have no owner.
func matchSectionEnd(_, trimmed string) (Match, bool) {
	if !strings.HasPrefix(trimmed, sectionPrefix) {
		return Match{}, false
	}
	return Match{Kind: SectionEndMatch}, true
}

func matchMetadata(_, trimmed string) (Match, bool) {
	m := metadataPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Match{}, false
	}
	return Match{
		Kind: MetadataMatch,
		Metadata: Metadata{
			Label:   m[1],
			Version: strings.TrimSpace(m[2]),
			Expiry:  m[3],
		},
	}, true
}

func matchStrictSession(line, _ string) (Match, bool) {
	m := strictSessionPattern.FindStringSubmatch(line)
	if m == nil {
		return Match{}, false
	}
	return Match{
		Kind: StrictSessionMatch,
		Session: UserSession{
			Username:  m[1],
			Host:      m[2],
			Port:      m[3],
			Version:   m[4],
			ProcessID: m[5],
			StartTime: strings.TrimSpace(m[6]),
		},
	}, true
}

func matchLooseSession(line, _ string) (Match, bool) {
	m := looseSessionPattern.FindStringSubmatch(line)
	if m == nil {
		return Match{}, false
	}
	return Match{
		Kind: LooseSessionMatch,
		Session: UserSession{
			Username:  m[1],
			Host:      m[2],
			Port:      NotAvailable,
			Version:   NotAvailable,
			ProcessID: NotAvailable,
			StartTime: NotAvailable,
		},
	}, true
}
