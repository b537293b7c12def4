package prompts

import (
	"errors"
	"strconv"
	"strings"
)

// Delimiters and sentinel phrases of the response grammar. Parsing is
// exact substring/delimiter matching, never free-form interpretation.
// Sentinels are matched as substrings of the response: a garbled reply
// that still contains the sentinel counts as "no result" (conservative on
// purpose — see the taxonomy and description contracts).
const (
	TupleDelimiter  = "<|>"
	RecordDelimiter = "##"

	SentinelNoEntities    = "no additional entities identified"
	SentinelNoObjectTag   = "no additional object tag detected"
	SentinelNoChange      = "no change needed"
	SentinelNoMatch       = "no match found"
	SentinelNewTemplate   = "new"
	SentinelSameValue     = "same value"
	SentinelNotRelevant   = "not relevant"
)

// ErrMalformed reports a response that matches neither the expected
// record grammar nor the sentinel. Callers retry once with the identical
// prompt, then treat the operation as having produced no result.
var ErrMalformed = errors.New("malformed llm response")

// EntityRecord is one parsed entity extraction tuple.
type EntityRecord struct {
	Name        string
	Type        string
	Description string
}

// ParseEntityTypes parses the comma-separated entity type line.
func ParseEntityTypes(raw string) []string {
	var types []string
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// ParseEntityRecords parses the delimiter-separated entity tuples.
// A sentinel response yields (nil, nil). Records with the wrong field
// count are skipped; if nothing parses, ErrMalformed is returned.
func ParseEntityRecords(raw string) ([]EntityRecord, error) {
	if containsSentinel(raw, SentinelNoEntities) {
		return nil, nil
	}

	var records []EntityRecord
	for _, rec := range strings.Split(raw, RecordDelimiter) {
		fields := strings.Split(rec, TupleDelimiter)
		if len(fields) != 3 {
			continue
		}
		r := EntityRecord{
			Name:        strings.TrimSpace(fields[0]),
			Type:        strings.TrimSpace(fields[1]),
			Description: strings.TrimSpace(fields[2]),
		}
		if r.Name == "" || r.Type == "" {
			continue
		}
		records = append(records, r)
	}

	if len(records) == 0 {
		return nil, ErrMalformed
	}
	return records, nil
}

// TagProposalRecord is one parsed taxonomy classification tuple.
type TagProposalRecord struct {
	ParentName        string
	ParentDescription string
	TagName           string
	TagDescription    string
}

// ParseTagProposals parses the delimiter-separated classification tuples.
// A sentinel response yields (nil, nil).
func ParseTagProposals(raw string) ([]TagProposalRecord, error) {
	if containsSentinel(raw, SentinelNoObjectTag) {
		return nil, nil
	}

	var records []TagProposalRecord
	for _, rec := range strings.Split(raw, RecordDelimiter) {
		fields := strings.Split(rec, TupleDelimiter)
		if len(fields) != 4 {
			continue
		}
		r := TagProposalRecord{
			ParentName:        strings.TrimSpace(fields[0]),
			ParentDescription: strings.TrimSpace(fields[1]),
			TagName:           strings.TrimSpace(fields[2]),
			TagDescription:    strings.TrimSpace(fields[3]),
		}
		if r.ParentName == "" || r.TagName == "" {
			continue
		}
		records = append(records, r)
	}

	if len(records) == 0 {
		return nil, ErrMalformed
	}
	return records, nil
}

// ParseBestMatch parses the arbitration response: a 1-based index into
// the offered candidate list, or the no-match sentinel. Returns
// (0, false, nil) for no match.
func ParseBestMatch(raw string, max int) (index int, matched bool, err error) {
	if containsSentinel(raw, SentinelNoMatch) {
		return 0, false, nil
	}
	n, err := parseLeadingInt(raw)
	if err != nil || n < 1 || n > max {
		return 0, false, ErrMalformed
	}
	return n, true, nil
}

// ParseTemplateChoice parses the template selection response: a 1-based
// index, or the "new" sentinel. Returns (0, true, nil) when a new
// template should be created.
func ParseTemplateChoice(raw string, max int) (index int, createNew bool, err error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), SentinelNewTemplate) {
		return 0, true, nil
	}
	n, err := parseLeadingInt(raw)
	if err != nil || n < 1 || n > max {
		return 0, false, ErrMalformed
	}
	return n, false, nil
}

// ParseDescriptionRefresh parses the definition refresh response.
// Returns ("", false) when the definition should stand.
func ParseDescriptionRefresh(raw string) (description string, changed bool) {
	if containsSentinel(raw, SentinelNoChange) {
		return "", false
	}
	desc := strings.TrimSpace(raw)
	if desc == "" {
		return "", false
	}
	return desc, true
}

// PropertyOutcome is the three-way result of a property refresh check.
type PropertyOutcome int

const (
	PropertyNotRelevant PropertyOutcome = iota
	PropertySameValue
	PropertyNewValue
)

// ParsePropertyOutcome parses the property refresh response into its
// three explicit branches. Anything that is not one of the two sentinels
// is the new value; an empty response counts as not relevant.
func ParsePropertyOutcome(raw string) (PropertyOutcome, string) {
	if containsSentinel(raw, SentinelNotRelevant) {
		return PropertyNotRelevant, ""
	}
	if containsSentinel(raw, SentinelSameValue) {
		return PropertySameValue, ""
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return PropertyNotRelevant, ""
	}
	return PropertyNewValue, value
}

func containsSentinel(raw, sentinel string) bool {
	return strings.Contains(strings.ToLower(raw), sentinel)
}

// parseLeadingInt extracts the first integer token in the response so
// answers like "2." or "Answer: 2" still parse.
func parseLeadingInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	start := -1
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start == -1 {
		return 0, ErrMalformed
	}
	end := start
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	return strconv.Atoi(raw[start:end])
}
