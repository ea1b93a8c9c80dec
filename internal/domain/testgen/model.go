package testgen

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is one ingested table row. Keys keep the column order of the source
// table and values are string, int64, float64 or nil for a missing cell.
type Record = orderedmap.OrderedMap[string, any]

// NewRecord returns an empty row.
func NewRecord() *Record {
	return orderedmap.New[string, any]()
}

// Upload is a file received at the upload boundary.
type Upload struct {
	Name string
	Data []byte
}

// PromptPair is the system and user prompt sent to the completion provider.
type PromptPair struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// GeneratedTestCase is one row of the test-case table returned by the model.
type GeneratedTestCase struct {
	TestCaseID       string `json:"testCaseId"`
	SubType          string `json:"subType"`
	Category         string `json:"category"`
	Description      string `json:"testDescription"`
	ExpectedResult   string `json:"expectedResult"`
	TestSteps        string `json:"testSteps"`
	PassFailCriteria string `json:"passFailCriteria"`
}

// TestCaseColumns is the header the model is instructed to emit, in order.
var TestCaseColumns = []string{
	"Test Case ID",
	"Sub Type",
	"Category",
	"Test Description",
	"Expected Result",
	"Test Steps",
	"Pass/Fail Criteria",
}

func testCaseFromCells(cells []string) GeneratedTestCase {
	return GeneratedTestCase{
		TestCaseID:       cells[0],
		SubType:          cells[1],
		Category:         cells[2],
		Description:      cells[3],
		ExpectedResult:   cells[4],
		TestSteps:        cells[5],
		PassFailCriteria: cells[6],
	}
}

// Summary is the statistical summary parsed from a completion. Labels keep
// the order they first appeared in; a repeated label replaces the earlier
// value.
type Summary struct {
	entries *orderedmap.OrderedMap[string, string]
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{entries: orderedmap.New[string, string]()}
}

// Set inserts or overwrites a label.
func (s *Summary) Set(label, value string) {
	s.entries.Set(label, value)
}

// Get returns the value stored for label.
func (s *Summary) Get(label string) (string, bool) {
	return s.entries.Get(label)
}

// Len returns the number of distinct labels.
func (s *Summary) Len() int {
	return s.entries.Len()
}

// Labels returns the labels in order.
func (s *Summary) Labels() []string {
	labels := make([]string, 0, s.entries.Len())
	for pair := s.entries.Oldest(); pair != nil; pair = pair.Next() {
		labels = append(labels, pair.Key)
	}
	return labels
}

// MarshalJSON encodes the summary as a JSON object in label order.
func (s *Summary) MarshalJSON() ([]byte, error) {
	return s.entries.MarshalJSON()
}

// UnmarshalJSON reads a JSON object, keeping its key order.
func (s *Summary) UnmarshalJSON(data []byte) error {
	s.entries = orderedmap.New[string, string]()
	return s.entries.UnmarshalJSON(data)
}

// Status is the outcome of a generation request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is returned to the caller of a generation request. It is never
// persisted.
type Result struct {
	Status  Status      `json:"status"`
	Message string      `json:"message"`
	Data    *ResultData `json:"data,omitempty"`
}

// ResultData carries the completion and whatever could be parsed from it.
type ResultData struct {
	RunID       string      `json:"runId"`
	RawResponse string      `json:"rawResponse"`
	Prompt      *PromptPair `json:"prompt,omitempty"`
	// TestCasesFound tells a table with no rows apart from a completion
	// without the test-case header.
	TestCasesFound     bool                `json:"testCasesFound"`
	GeneratedTestCases []GeneratedTestCase `json:"generatedTestCases,omitempty"`
	TestCaseParseError string              `json:"testCaseParseError,omitempty"`
	Summary            *Summary            `json:"summary,omitempty"`
}
