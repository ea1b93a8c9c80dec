package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/testgen/internal/config"
	"github.com/ehr/testgen/internal/domain/testgen"
	"github.com/ehr/testgen/internal/platform/vertex"
)

const version = "0.1.0"

// completionAdapter adapts a vertex.Client to testgen.CompletionProvider so
// the platform package does not import the domain package.
type completionAdapter struct {
	client *vertex.Client
}

func (a completionAdapter) Complete(ctx context.Context, prompt testgen.PromptPair) (string, error) {
	return a.client.Complete(ctx, prompt.System, prompt.User)
}

// newProvider is replaced in tests.
var newProvider = func(ctx context.Context, cfg *config.Config) (testgen.CompletionProvider, error) {
	client, err := vertex.NewClient(ctx, cfg.Provider())
	if err != nil {
		return nil, err
	}
	return completionAdapter{client: client}, nil
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "testgen-server",
		Short:        "HL7 to FHIR mapping test case generator",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(optionsCmd())
	root.AddCommand(generateCmd())
	root.AddCommand(parseCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the test case generation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func optionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "Print the allowed layout and resource selectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), selectorOptions(cfg))
		},
	}
}

func generateCmd() *cobra.Command {
	var (
		mappingPath  string
		testCasePath string
		hl7Path      string
		layout       string
		resource     string
		changelog    string
		showPrompt   bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate test cases from local files and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env, cmd.ErrOrStderr())

			mapping, err := readUploadFile(mappingPath)
			if err != nil {
				return err
			}
			req := &testgen.GenerateRequest{
				MappingFile: *mapping,
				Layout:      layout,
				Resource:    resource,
				Changelog:   changelog,
				ShowPrompt:  showPrompt,
			}
			if testCasePath != "" {
				if req.TestCaseFile, err = readUploadFile(testCasePath); err != nil {
					return err
				}
			}
			if hl7Path != "" {
				if req.HL7File, err = readUploadFile(hl7Path); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			svc, err := newService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			result, err := svc.Generate(ctx, req)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Status == testgen.StatusError {
				return fmt.Errorf("generation failed: %s", result.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mappingPath, "mapping", "", "mapping table (CSV or XLSX)")
	cmd.Flags().StringVar(&testCasePath, "test-cases", "", "existing test case table (CSV or XLSX)")
	cmd.Flags().StringVar(&hl7Path, "hl7", "", "sample HL7 v2 message")
	cmd.Flags().StringVar(&layout, "layout", "", "HL7 message layout, e.g. ADT^A01")
	cmd.Flags().StringVar(&resource, "resource", "", "target FHIR resource, e.g. Patient")
	cmd.Flags().StringVar(&changelog, "changelog", "", "free-text notes on recent mapping changes")
	cmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "include the formatted prompt in the output")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for the completion call")
	_ = cmd.MarkFlagRequired("mapping")
	_ = cmd.MarkFlagRequired("layout")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}

// parsedOutput is the JSON form of a parsed completion.
type parsedOutput struct {
	TestCasesFound     bool                        `json:"testCasesFound"`
	GeneratedTestCases []testgen.GeneratedTestCase `json:"generatedTestCases,omitempty"`
	TestCaseParseError string                      `json:"testCaseParseError,omitempty"`
	Summary            *testgen.Summary            `json:"summary,omitempty"`
}

func parseCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse a saved completion and print the extracted test cases and summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if file == "" || file == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read completion: %w", err)
			}

			parsed := testgen.NewDelimitedParser().Parse(string(raw))
			out := parsedOutput{
				TestCasesFound:     parsed.TestCasesFound,
				GeneratedTestCases: parsed.TestCases,
				Summary:            parsed.Summary,
			}
			if parsed.TestCaseErr != nil {
				out.TestCaseParseError = parsed.TestCaseErr.Error()
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "completion text file (default stdin)")
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env, os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() && !cfg.AuthEnabled() {
		logger.Warn().Msg("AUTH_SIGNING_KEY is not set; the API accepts unauthenticated requests")
	}

	svc, err := newService(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize completion provider")
	}
	logger.Info().
		Str("model", cfg.ModelName).
		Str("location", cfg.GoogleCloudLocation).
		Bool("api_key", cfg.GeminiAPIKey != "").
		Msg("completion provider ready")

	e := newServer(cfg, svc, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func selectorOptions(cfg *config.Config) testgen.Options {
	return testgen.DefaultOptions().WithOverrides(cfg.LayoutOptions, cfg.ResourceOptions)
}

func newService(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*testgen.Service, error) {
	formatter, err := testgen.NewFormatter()
	if err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return testgen.NewService(provider, formatter, testgen.NewDelimitedParser(), selectorOptions(cfg), logger), nil
}

func readUploadFile(path string) (*testgen.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &testgen.Upload{Name: filepath.Base(path), Data: data}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
