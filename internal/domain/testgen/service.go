package testgen

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/testgen/internal/platform/hl7v2"
)

// CompletionProvider sends one prompt pair to a hosted model and returns its
// completion text. It is called once per request with no retry.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt PromptPair) (string, error)
}

// GenerateRequest is one upload: the mapping table, the optional test-case
// table and HL7 sample, and the scalar form fields.
type GenerateRequest struct {
	MappingFile  Upload
	TestCaseFile *Upload
	HL7File      *Upload
	Layout       string
	Resource     string
	Changelog    string
	ShowPrompt   bool
}

// Service orchestrates ingestion, prompt formatting, the completion call and
// response parsing for a single request. It holds no per-request state.
type Service struct {
	provider  CompletionProvider
	formatter *Formatter
	parser    ResponseParser
	options   Options
	logger    zerolog.Logger
}

// NewService wires the collaborators of one process. opts are the selector
// lists requests are validated against.
func NewService(provider CompletionProvider, formatter *Formatter, parser ResponseParser, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		provider:  provider,
		formatter: formatter,
		parser:    parser,
		options:   opts,
		logger:    logger,
	}
}

// Options returns the selector lists served to clients.
func (s *Service) Options() Options {
	return s.options
}

// Generate runs one generation. A selector outside the allowed lists is
// returned as a *ValidationError before any upload is read. Every other
// failure is reported through a Result with StatusError.
func (s *Service) Generate(ctx context.Context, req *GenerateRequest) (*Result, error) {
	if err := s.options.Validate(req.Layout, req.Resource); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := s.logger.With().
		Str("run_id", runID).
		Str("layout", req.Layout).
		Str("resource", req.Resource).
		Logger()

	prompt, err := s.buildPrompt(req, log)
	if err != nil {
		return s.failure(log, err), nil
	}

	start := time.Now()
	raw, err := s.provider.Complete(ctx, prompt)
	if err != nil {
		return s.failure(log, wrapProvider(err)), nil
	}
	log.Info().
		Dur("latency", time.Since(start)).
		Int("completion_bytes", len(raw)).
		Msg("completion received")

	parsed := s.parser.Parse(raw)
	data := &ResultData{
		RunID:          runID,
		RawResponse:    raw,
		TestCasesFound: parsed.TestCasesFound,
		Summary:        parsed.Summary,
	}
	if req.ShowPrompt {
		data.Prompt = &prompt
	}

	evt := log.Info()
	if parsed.TestCaseErr != nil {
		data.TestCaseParseError = parsed.TestCaseErr.Error()
		evt = log.Warn().Err(parsed.TestCaseErr)
	} else if parsed.TestCasesFound {
		data.GeneratedTestCases = parsed.TestCases
	}
	evt = evt.
		Bool("test_cases_found", parsed.TestCasesFound).
		Int("test_cases", len(data.GeneratedTestCases)).
		Bool("summary_found", parsed.Summary != nil)
	if parsed.Summary != nil {
		evt = evt.Int("summary_entries", parsed.Summary.Len())
	}
	evt.Msg("completion parsed")

	return &Result{
		Status:  StatusSuccess,
		Message: "test cases generated",
		Data:    data,
	}, nil
}

func (s *Service) buildPrompt(req *GenerateRequest, log zerolog.Logger) (PromptPair, error) {
	mapping, err := ReadMappingTable(req.MappingFile)
	if err != nil {
		return PromptPair{}, errors.Wrapf(err, "mapping file %q", req.MappingFile.Name)
	}
	testCases, err := ReadTestCaseTable(req.TestCaseFile)
	if err != nil {
		return PromptPair{}, errors.Wrapf(err, "test case file %q", req.TestCaseFile.Name)
	}
	hl7Text := DecodeText(req.HL7File)
	inspectHL7(log, hl7Text)

	prompt, err := s.formatter.Format(PromptInput{
		Mapping:    mapping,
		Layout:     req.Layout,
		Resource:   req.Resource,
		TestCases:  testCases,
		HL7Message: hl7Text,
		Changelog:  req.Changelog,
	})
	if err != nil {
		return PromptPair{}, err
	}

	log.Info().
		Int("mapping_rows", len(mapping)).
		Int("test_case_rows", len(testCases)).
		Int("system_prompt_bytes", len(prompt.System)).
		Int("user_prompt_bytes", len(prompt.User)).
		Msg("prompt formatted")
	return prompt, nil
}

// inspectHL7 logs what the sample message looks like. The prompt always gets
// the text as uploaded, so a sample that does not parse is only a warning.
func inspectHL7(log zerolog.Logger, text string) {
	if text == "" {
		return
	}
	msg, err := hl7v2.Parse([]byte(text))
	if err != nil {
		log.Warn().Err(err).Msg("hl7 sample is not a parseable v2 message")
		return
	}
	evt := log.Info().
		Str("hl7_type", msg.Type).
		Str("hl7_version", msg.Version).
		Int("hl7_segments", len(msg.Segments)).
		Int("hl7_observations", len(msg.GetSegments("OBX")))
	// PID-3.1 is the patient identifier most mappings key on.
	if pid := msg.GetSegment("PID"); pid != nil {
		evt = evt.Bool("hl7_patient_id", pid.GetComponent(3, 1) != "")
	}
	evt.Msg("hl7 sample inspected")
}

func (s *Service) failure(log zerolog.Logger, err error) *Result {
	if !errors.Is(err, ErrFormat) && !errors.Is(err, ErrTemplate) && !errors.Is(err, ErrProvider) {
		err = withKind(ErrProcessing, err)
	}
	log.Error().Err(err).Str("kind", Kind(err)).Msg("generation failed")
	return &Result{
		Status:  StatusError,
		Message: err.Error(),
	}
}
