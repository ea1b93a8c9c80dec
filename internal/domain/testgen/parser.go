package testgen

import (
	"regexp"
	"strings"
)

// ResponseParser turns a raw completion into structured results. The
// delimiter-based implementation below can be swapped for one that reads a
// structured contract without touching callers.
type ResponseParser interface {
	Parse(raw string) *ParsedResponse
}

// ParsedResponse holds both blocks of a completion. A block whose header was
// not found is absent: TestCasesFound is false or Summary is nil.
type ParsedResponse struct {
	TestCasesFound bool
	TestCases      []GeneratedTestCase
	// TestCaseErr is set, and TestCases nil, when the test-case block was
	// found but could not be parsed. It never affects Summary.
	TestCaseErr error
	Summary     *Summary
}

// DelimitedParser locates the test-case table and the summary by their fixed
// header lines.
type DelimitedParser struct {
	testCaseHeader *regexp.Regexp
	summaryHeader  *regexp.Regexp
}

// NewDelimitedParser returns a parser for the TestCaseColumns header and the
// "Statistical Summary" heading.
func NewDelimitedParser() *DelimitedParser {
	quoted := make([]string, len(TestCaseColumns))
	for i, c := range TestCaseColumns {
		quoted[i] = regexp.QuoteMeta(c)
	}
	return &DelimitedParser{
		testCaseHeader: regexp.MustCompile(`(?m)^[ \t]*\|?[ \t]*` + strings.Join(quoted, `[ \t]*\|[ \t]*`) + `[ \t]*\|?[ \t]*\r?$`),
		summaryHeader:  regexp.MustCompile(`(?m)^[ \t#*]*Statistical Summary[ \t*:]*\r?$`),
	}
}

// Parse splits raw into its two blocks and decodes each independently.
func (p *DelimitedParser) Parse(raw string) *ParsedResponse {
	out := &ParsedResponse{}

	tc := p.testCaseHeader.FindStringIndex(raw)
	sum := p.locateSummary(raw, tc)

	if tc != nil {
		end := len(raw)
		if sum != nil && sum[0] > tc[1] {
			end = sum[0]
		}
		out.TestCasesFound = true
		out.TestCases, out.TestCaseErr = parseTestCaseBlock(raw[tc[0]:tc[1]], raw[tc[1]:end])
	}

	if sum != nil {
		end := len(raw)
		if tc != nil && tc[0] > sum[1] {
			end = tc[0]
		}
		out.Summary = parseSummaryBlock(raw[sum[1]:end])
	}
	return out
}

// locateSummary prefers a summary heading after the test-case header and
// falls back to one anywhere in the text.
func (p *DelimitedParser) locateSummary(raw string, tc []int) []int {
	if tc != nil {
		if loc := p.summaryHeader.FindStringIndex(raw[tc[1]:]); loc != nil {
			return []int{loc[0] + tc[1], loc[1] + tc[1]}
		}
	}
	return p.summaryHeader.FindStringIndex(raw)
}

var separatorRow = regexp.MustCompile(`^\|?[ \t:|-]*-[ \t:|-]*\|?$`)

// parseTestCaseBlock reads the header line plus the pipe-delimited rows
// below it. Any row with the wrong number of cells fails the whole block.
func parseTestCaseBlock(header, block string) ([]GeneratedTestCase, error) {
	columns := splitRow(header)
	if len(columns) != len(TestCaseColumns) {
		return nil, parseErrorf("test case header has %d columns, expected %d", len(columns), len(TestCaseColumns))
	}

	cases := []GeneratedTestCase{}
	for i, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") || separatorRow.MatchString(line) {
			continue
		}
		cells := splitRow(line)
		if len(cells) != len(columns) {
			return nil, parseErrorf("test case block line %d: expected %d columns, got %d", i+1, len(columns), len(cells))
		}
		cases = append(cases, testCaseFromCells(cells))
	}
	return cases, nil
}

// splitRow splits one table line on "|", ignoring a single outer pipe on
// either side, and trims every cell.
func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// parseSummaryBlock reads "Label: value" lines. Lines without a colon and
// "#" comment lines are skipped, "*" emphasis is removed, and the line is
// split on its first colon only. A value spanning several lines keeps only
// its first line.
func parseSummaryBlock(block string) *Summary {
	summary := NewSummary()
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, ":") || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.ReplaceAll(line, "*", "")
		key, value, _ := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		summary.Set(key, strings.TrimSpace(value))
	}
	return summary
}
