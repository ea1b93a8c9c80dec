package testgen

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// tableLayout describes where the header sits and how many leading columns
// are discarded.
type tableLayout struct {
	headerRow   int
	dropLeading int
}

var (
	// Mapping exports carry a title row above the header and two leading
	// columns that are always blank.
	mappingLayout  = tableLayout{headerRow: 1, dropLeading: 2}
	testCaseLayout = tableLayout{headerRow: 0}
)

// missingMarkers are cell values that denote an absent value.
var missingMarkers = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true, "None": true,
	"n/a": true, "nan": true, "null": true,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadMappingTable parses the mapping table into rows. The first two columns
// are dropped; a table with fewer than two columns is a format error.
func ReadMappingTable(u Upload) ([]*Record, error) {
	if len(u.Data) == 0 {
		return nil, formatErrorf("mapping file %q is empty", u.Name)
	}
	rows, err := readRows(u)
	if err != nil {
		return nil, err
	}
	return buildRecords(rows, mappingLayout)
}

// ReadTestCaseTable parses the optional test-case table. A nil or empty
// upload yields an empty, non-nil slice.
func ReadTestCaseTable(u *Upload) ([]*Record, error) {
	if u == nil || len(u.Data) == 0 {
		return []*Record{}, nil
	}
	rows, err := readRows(*u)
	if err != nil {
		return nil, err
	}
	return buildRecords(rows, testCaseLayout)
}

// DecodeText decodes an optional text upload. A nil upload yields "".
func DecodeText(u *Upload) string {
	if u == nil {
		return ""
	}
	return string(decodeBytes(u.Data))
}

func decodeBytes(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

func isSpreadsheet(u Upload) bool {
	switch strings.ToLower(filepath.Ext(u.Name)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return bytes.HasPrefix(u.Data, []byte("PK\x03\x04"))
}

func readRows(u Upload) ([][]string, error) {
	if isSpreadsheet(u) {
		return readSpreadsheetRows(u)
	}
	return readCSVRows(u)
}

func readCSVRows(u Upload) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(decodeBytes(u.Data)))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, wrapFormat(err, fmt.Sprintf("read %q as CSV", u.Name))
	}
	return rows, nil
}

func readSpreadsheetRows(u Upload) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(u.Data))
	if err != nil {
		return nil, wrapFormat(err, fmt.Sprintf("open %q as spreadsheet", u.Name))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, formatErrorf("spreadsheet %q has no worksheets", u.Name)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, wrapFormat(err, fmt.Sprintf("read worksheet %q", sheets[0]))
	}

	// Blank worksheet rows come back as empty slices; the CSV reader skips
	// blank lines, so do the same here.
	out := rows[:0]
	for _, row := range rows {
		if len(row) > 0 {
			out = append(out, row)
		}
	}
	return out, nil
}

func buildRecords(rows [][]string, layout tableLayout) ([]*Record, error) {
	if len(rows) <= layout.headerRow {
		return nil, formatErrorf("table has %d line(s), header expected on line %d", len(rows), layout.headerRow+1)
	}

	header := columnNames(rows[layout.headerRow])
	if len(header) < layout.dropLeading {
		return nil, formatErrorf("table has %d column(s), at least %d required", len(header), layout.dropLeading)
	}

	data := rows[layout.headerRow+1:]
	width := len(header)
	for i, row := range data {
		if len(row) > width {
			return nil, formatErrorf("line %d: expected %d fields, saw %d", layout.headerRow+i+2, width, len(row))
		}
	}

	columns := make([][]string, width)
	for c := range columns {
		columns[c] = make([]string, len(data))
		for r, row := range data {
			if c < len(row) {
				columns[c][r] = row[c]
			}
		}
	}

	records := make([]*Record, len(data))
	for r := range data {
		records[r] = NewRecord()
	}
	for c := layout.dropLeading; c < width; c++ {
		convert := inferColumn(columns[c])
		for r := range data {
			records[r].Set(header[c], convert(columns[c][r]))
		}
	}
	return records, nil
}

// columnNames names blank headers "Unnamed: <index>" and suffixes repeated
// names with ".1", ".2", ... A suffixed name never takes a name that another
// header already uses, so every column keeps its own key.
func columnNames(raw []string) []string {
	bases := make([]string, len(raw))
	reserved := make(map[string]bool, len(raw))
	for i, h := range raw {
		bases[i] = strings.TrimSpace(h)
		if bases[i] == "" {
			bases[i] = fmt.Sprintf("Unnamed: %d", i)
		}
		reserved[bases[i]] = true
	}

	names := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	next := make(map[string]int, len(raw))
	for i, base := range bases {
		name := base
		if used[name] {
			for {
				next[base]++
				name = fmt.Sprintf("%s.%d", base, next[base])
				if !used[name] && !reserved[name] {
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}

type columnKind int

const (
	kindInt columnKind = iota
	kindFloat
	kindString
)

// inferColumn picks one type for a whole column: integers if every present
// cell is an integer, floats if every present cell is numeric, strings
// otherwise. Missing cells always convert to nil.
func inferColumn(cells []string) func(string) any {
	kind := kindInt
	for _, cell := range cells {
		if missingMarkers[cell] {
			continue
		}
		v := strings.TrimSpace(cell)
		if kind == kindInt {
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				continue
			}
			kind = kindFloat
		}
		if kind == kindFloat {
			if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
				continue
			}
			kind = kindString
			break
		}
	}

	return func(cell string) any {
		if missingMarkers[cell] {
			return nil
		}
		switch kind {
		case kindInt:
			n, _ := strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
			return n
		case kindFloat:
			f, _ := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			return f
		default:
			return cell
		}
	}
}
