package testgen

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
)

// Form field names of the generation upload.
const (
	FieldMappingFile  = "mapping_file"
	FieldTestCaseFile = "test_case_file"
	FieldHL7File      = "hl7_file"
	FieldLayout       = "layout"
	FieldResource     = "resource"
	FieldChangelog    = "changelog"
	FieldShowPrompt   = "show_prompt"
)

// Handler serves the generation endpoints.
type Handler struct {
	svc *Service
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the generation endpoints on the API group.
// generateMW applies only to the completion-backed route.
//
//	GET  /api/v1/options   - selector lists
//	POST /api/v1/generate  - multipart upload, returns a Result
func (h *Handler) RegisterRoutes(api *echo.Group, generateMW ...echo.MiddlewareFunc) {
	api.GET("/options", h.ListOptions)
	api.POST("/generate", h.Generate, generateMW...)
}

// ValidationResponse is the 400 body for a selector outside its list.
type ValidationResponse struct {
	Status        Status   `json:"status"`
	Message       string   `json:"message"`
	Field         string   `json:"field"`
	AllowedValues []string `json:"allowedValues"`
}

// ListOptions handles GET /api/v1/options.
func (h *Handler) ListOptions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Options())
}

// Generate handles POST /api/v1/generate. A Result with StatusError is
// written with status 500.
func (h *Handler) Generate(c echo.Context) error {
	layout := c.FormValue(FieldLayout)
	resource := c.FormValue(FieldResource)

	// Selectors are checked before any upload is opened.
	if err := h.svc.Options().Validate(layout, resource); err != nil {
		return validationError(c, err)
	}

	req := &GenerateRequest{
		Layout:    layout,
		Resource:  resource,
		Changelog: c.FormValue(FieldChangelog),
	}
	req.ShowPrompt, _ = strconv.ParseBool(c.FormValue(FieldShowPrompt))

	mapping, err := readUpload(c, FieldMappingFile)
	if err != nil {
		return uploadError(c, err)
	}
	if mapping == nil {
		return c.JSON(http.StatusBadRequest, Result{
			Status:  StatusError,
			Message: FieldMappingFile + " is required",
		})
	}
	req.MappingFile = *mapping

	if req.TestCaseFile, err = readUpload(c, FieldTestCaseFile); err != nil {
		return uploadError(c, err)
	}
	if req.HL7File, err = readUpload(c, FieldHL7File); err != nil {
		return uploadError(c, err)
	}

	result, err := h.svc.Generate(c.Request().Context(), req)
	if err != nil {
		return validationError(c, err)
	}
	if result.Status == StatusError {
		return c.JSON(http.StatusInternalServerError, result)
	}
	return c.JSON(http.StatusOK, result)
}

// readUpload returns nil when the field was not sent.
func readUpload(c echo.Context, field string) (*Upload, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", field)
	}
	return openUpload(fh)
}

func openUpload(fh *multipart.FileHeader) (*Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", fh.Filename)
	}
	return &Upload{Name: fh.Filename, Data: data}, nil
}

func validationError(c echo.Context, err error) error {
	verr, ok := AsValidationError(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusBadRequest, ValidationResponse{
		Status:        StatusError,
		Message:       verr.Error(),
		Field:         verr.Field,
		AllowedValues: verr.Allowed,
	})
}

// uploadError passes HTTP errors raised while reading the body (such as the
// body limit) through unchanged.
func uploadError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return c.JSON(http.StatusBadRequest, Result{
		Status:  StatusError,
		Message: err.Error(),
	})
}
