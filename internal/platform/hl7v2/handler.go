package hl7v2

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler lets clients check an HL7 v2 sample before uploading it with a
// mapping table.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers the inspection endpoint.
//
//	POST /api/v1/hl7v2/inspect - parse a raw message and describe it
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/inspect", h.Inspect)
}

// Description is the JSON form of an inspected message.
type Description struct {
	Type          string         `json:"type"`
	ControlID     string         `json:"controlId"`
	Version       string         `json:"version"`
	Timestamp     string         `json:"timestamp,omitempty"`
	SendingApp    string         `json:"sendingApp"`
	SendingFac    string         `json:"sendingFac"`
	ReceivingApp  string         `json:"receivingApp"`
	ReceivingFac  string         `json:"receivingFac"`
	Encoding      string         `json:"encoding"`
	SegmentOrder  []string       `json:"segmentOrder"`
	SegmentCounts map[string]int `json:"segmentCounts"`
	Segments      []segmentJSON  `json:"segments"`
}

type segmentJSON struct {
	Name   string      `json:"name"`
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Value      string     `json:"value"`
	Components []string   `json:"components,omitempty"`
	Repeats    [][]string `json:"repeats,omitempty"`
}

// Describe builds the JSON description of m.
func Describe(m *Message) Description {
	counts, order := m.SegmentCounts()
	d := Description{
		Type:          m.Type,
		ControlID:     m.ControlID,
		Version:       m.Version,
		SendingApp:    m.SendingApp,
		SendingFac:    m.SendingFac,
		ReceivingApp:  m.ReceivingApp,
		ReceivingFac:  m.ReceivingFac,
		Encoding:      string([]byte{m.Delimiters.Field, m.Delimiters.Component, m.Delimiters.Repetition, m.Delimiters.Escape, m.Delimiters.Subcomponent}),
		SegmentOrder:  order,
		SegmentCounts: counts,
		Segments:      make([]segmentJSON, len(m.Segments)),
	}
	if !m.Timestamp.IsZero() {
		d.Timestamp = m.Timestamp.Format("2006-01-02T15:04:05")
	}
	for i, seg := range m.Segments {
		fields := make([]fieldJSON, len(seg.Fields))
		for j, f := range seg.Fields {
			fields[j] = fieldJSON{Value: f.Value, Components: f.Components}
			if len(f.Repeats) > 1 {
				fields[j].Repeats = f.Repeats
			}
		}
		d.Segments[i] = segmentJSON{Name: seg.Name, Fields: fields}
	}
	return d
}

// Inspect handles POST /api/v1/hl7v2/inspect. The body is the raw message.
func (h *Handler) Inspect(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": "failed to read request body",
		})
	}
	if len(body) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": "request body is empty",
		})
	}

	msg, err := Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, Describe(msg))
}
