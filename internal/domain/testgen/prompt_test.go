package testgen

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput(t *testing.T) PromptInput {
	t.Helper()
	mapping, err := ReadMappingTable(Upload{Name: "patient.csv", Data: []byte(mappingCSV)})
	require.NoError(t, err)
	cases, err := ReadTestCaseTable(&Upload{Name: "cases.csv", Data: []byte("Test Case ID,Category\nTC001,Positive\n")})
	require.NoError(t, err)
	return PromptInput{
		Mapping:    mapping,
		Layout:     "ADT^A01",
		Resource:   "Patient",
		TestCases:  cases,
		HL7Message: "MSH|^~\\&|A|B|C|D|20240115||ADT^A01|1|P|2.5.1",
		Changelog:  "PID-7 now maps to birthDate",
	}
}

func TestFormatter_SubstitutesAllInputs(t *testing.T) {
	f, err := NewFormatter()
	require.NoError(t, err)

	in := sampleInput(t)
	pair, err := f.Format(in)
	require.NoError(t, err)

	assert.Contains(t, pair.System, "HL7 v2 ADT^A01 messages")
	assert.Contains(t, pair.System, "FHIR R4 Patient resources")
	assert.Contains(t, pair.System, strings.Join(TestCaseColumns, " | "))
	assert.Contains(t, pair.System, "Statistical Summary")

	assert.Contains(t, pair.User, "ADT^A01 to Patient")
	assert.Contains(t, pair.User, `"instances": [`)
	assert.Contains(t, pair.User, `"Test Case ID": "TC001"`)
	assert.Contains(t, pair.User, in.HL7Message)
	assert.Contains(t, pair.User, in.Changelog)
	assert.NotContains(t, pair.System+pair.User, "{{")
}

func TestFormatter_Deterministic(t *testing.T) {
	f, err := NewFormatter()
	require.NoError(t, err)

	first, err := f.Format(sampleInput(t))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.Format(sampleInput(t))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFormatter_MappingJSON(t *testing.T) {
	f, err := NewFormatterFromTemplates("sys", "{{mapping_json}}")
	require.NoError(t, err)

	pair, err := f.Format(sampleInput(t))
	require.NoError(t, err)

	var decoded map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(pair.User), &decoded))
	require.Len(t, decoded, 1)
	require.Len(t, decoded["instances"], 3)
	assert.Nil(t, decoded["instances"][1]["Weight"])

	// Column order of the source table is kept.
	hl7 := strings.Index(pair.User, `"HL7 Field"`)
	fhir := strings.Index(pair.User, `"FHIR Path"`)
	seq := strings.Index(pair.User, `"Sequence"`)
	assert.True(t, hl7 < fhir && fhir < seq, "columns out of order:\n%s", pair.User)
}

func TestFormatter_EmptyInputs(t *testing.T) {
	f, err := NewFormatterFromTemplates("sys", "{{mapping_json}}|{{test_cases_json}}|{{hl7_message}}|{{changelog}}")
	require.NoError(t, err)

	pair, err := f.Format(PromptInput{Layout: "ADT^A01", Resource: "Patient"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"instances\": []\n}|[]||", pair.User)
}

func TestFormatter_ValuesAreNotRescanned(t *testing.T) {
	f, err := NewFormatterFromTemplates("{{layout}}", "{{changelog}}")
	require.NoError(t, err)

	pair, err := f.Format(PromptInput{Layout: "ADT^A01", Changelog: "literal {{layout}} text"})
	require.NoError(t, err)
	assert.Equal(t, "literal {{layout}} text", pair.User)
}

func TestFormatter_UnknownPlaceholder(t *testing.T) {
	f, err := NewFormatterFromTemplates("sys", "{{mapping_json}} {{department}}")
	require.NoError(t, err)

	_, err = f.Format(sampleInput(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplate)
	assert.Contains(t, err.Error(), "department")
}

func TestParseTemplate(t *testing.T) {
	t.Run("frontmatter", func(t *testing.T) {
		tpl, err := ParseTemplate("---\nname: demo\ndescription: d\nvariables:\n  - layout\n---\nHello {{ layout }} and {{layout}}")
		require.NoError(t, err)
		assert.Equal(t, "demo", tpl.Meta.Name)
		assert.Equal(t, []string{"layout"}, tpl.Meta.Variables)
		assert.Equal(t, []string{"layout"}, tpl.Placeholders())

		out, err := tpl.Render(map[string]string{"layout": "ORU^R01"})
		require.NoError(t, err)
		assert.Equal(t, "Hello ORU^R01 and ORU^R01", out)
	})

	t.Run("no frontmatter", func(t *testing.T) {
		tpl, err := ParseTemplate("Plain {{resource}} --- with dashes")
		require.NoError(t, err)
		assert.Empty(t, tpl.Meta.Name)
		assert.Equal(t, []string{"resource"}, tpl.Placeholders())
	})

	errorCases := []struct {
		name    string
		content string
		want    string
	}{
		{"undeclared placeholder", "---\nname: x\nvariables: [layout]\n---\n{{resource}}", "undeclared"},
		{"malformed placeholder", "Hello {{layout", "malformed"},
		{"empty body", "---\nname: x\n---\n  \n", "empty body"},
		{"bad yaml", "---\nname: [unclosed\n---\nbody", "frontmatter"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTemplate(tc.content)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTemplate)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBuiltinTemplatesDeclareTheirPlaceholders(t *testing.T) {
	for _, name := range []string{"templates/system.md", "templates/user.md"} {
		raw, err := templateFS.ReadFile(name)
		require.NoError(t, err)
		tpl, err := ParseTemplate(string(raw))
		require.NoError(t, err, name)
		assert.NotEmpty(t, tpl.Meta.Variables, name)
		assert.ElementsMatch(t, tpl.Meta.Variables, tpl.Placeholders(), name)
	}
}
