package testgen

import (
	"bytes"
	"embed"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.md
var templateFS embed.FS

// Placeholder names available to the prompt templates.
const (
	VarMappingJSON   = "mapping_json"
	VarLayout        = "layout"
	VarResource      = "resource"
	VarTestCasesJSON = "test_cases_json"
	VarHL7Message    = "hl7_message"
	VarChangelog     = "changelog"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// TemplateMeta is the YAML frontmatter of a prompt template.
type TemplateMeta struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Variables   []string `yaml:"variables"`
}

// Template is a prompt body with {{name}} placeholders.
type Template struct {
	Meta TemplateMeta
	body string
}

// ParseTemplate reads optional "---" delimited YAML frontmatter followed by
// the template body. Every placeholder in the body must be listed in the
// frontmatter variables when that list is present.
func ParseTemplate(content string) (*Template, error) {
	t := &Template{body: content}

	parts := strings.SplitN(content, "---", 3)
	if len(parts) == 3 && strings.TrimSpace(parts[0]) == "" {
		if err := yaml.Unmarshal([]byte(parts[1]), &t.Meta); err != nil {
			return nil, wrapTemplate(err, "template frontmatter")
		}
		t.body = strings.TrimLeft(parts[2], "\r\n")
	}
	if strings.TrimSpace(t.body) == "" {
		return nil, templateErrorf("template %q has an empty body", t.Meta.Name)
	}

	if strings.Contains(placeholderPattern.ReplaceAllString(t.body, ""), "{{") {
		return nil, templateErrorf("template %q has a malformed placeholder", t.Meta.Name)
	}

	if len(t.Meta.Variables) > 0 {
		declared := make(map[string]bool, len(t.Meta.Variables))
		for _, v := range t.Meta.Variables {
			declared[v] = true
		}
		for _, name := range t.Placeholders() {
			if !declared[name] {
				return nil, templateErrorf("template %q uses undeclared placeholder {{%s}}", t.Meta.Name, name)
			}
		}
	}
	return t, nil
}

// Placeholders returns the distinct placeholder names in order of first use.
func (t *Template) Placeholders() []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render substitutes vars in a single pass. Substituted values are not
// scanned for placeholders again.
func (t *Template) Render(vars map[string]string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(t.body, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", templateErrorf("template %q: no value for placeholder(s) %s", t.Meta.Name, strings.Join(missing, ", "))
	}
	return out, nil
}

// PromptInput is everything the formatter substitutes into the templates.
type PromptInput struct {
	Mapping    []*Record
	Layout     string
	Resource   string
	TestCases  []*Record
	HL7Message string
	Changelog  string
}

// Formatter turns ingested data into a PromptPair. It performs no I/O and
// the same input always yields the same output.
type Formatter struct {
	system *Template
	user   *Template
}

// NewFormatter loads the built-in templates.
func NewFormatter() (*Formatter, error) {
	system, err := templateFS.ReadFile("templates/system.md")
	if err != nil {
		return nil, errors.Wrap(err, "read system template")
	}
	user, err := templateFS.ReadFile("templates/user.md")
	if err != nil {
		return nil, errors.Wrap(err, "read user template")
	}
	return NewFormatterFromTemplates(string(system), string(user))
}

// NewFormatterFromTemplates builds a formatter from raw template text.
func NewFormatterFromTemplates(system, user string) (*Formatter, error) {
	st, err := ParseTemplate(system)
	if err != nil {
		return nil, errors.Wrap(err, "system template")
	}
	ut, err := ParseTemplate(user)
	if err != nil {
		return nil, errors.Wrap(err, "user template")
	}
	return &Formatter{system: st, user: ut}, nil
}

// Format renders both templates.
func (f *Formatter) Format(in PromptInput) (PromptPair, error) {
	mappingJSON, err := encodeJSON(map[string][]*Record{"instances": nonNil(in.Mapping)})
	if err != nil {
		return PromptPair{}, errors.Wrap(err, "encode mapping rows")
	}
	testCasesJSON, err := encodeJSON(nonNil(in.TestCases))
	if err != nil {
		return PromptPair{}, errors.Wrap(err, "encode test case rows")
	}

	vars := map[string]string{
		VarMappingJSON:   mappingJSON,
		VarLayout:        in.Layout,
		VarResource:      in.Resource,
		VarTestCasesJSON: testCasesJSON,
		VarHL7Message:    in.HL7Message,
		VarChangelog:     in.Changelog,
	}

	system, err := f.system.Render(vars)
	if err != nil {
		return PromptPair{}, err
	}
	user, err := f.user.Render(vars)
	if err != nil {
		return PromptPair{}, err
	}
	return PromptPair{System: system, User: user}, nil
}

func nonNil(rows []*Record) []*Record {
	if rows == nil {
		return []*Record{}
	}
	return rows
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
