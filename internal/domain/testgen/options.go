package testgen

// Options holds the enumerated values accepted for the two prompt selectors.
type Options struct {
	Layouts   []string `json:"layouts"`
	Resources []string `json:"resources"`
}

var defaultLayouts = []string{
	"ADT^A01", "ADT^A02", "ADT^A03", "ADT^A04", "ADT^A08", "ADT^A11", "ADT^A31", "ADT^A40",
	"ORM^O01", "OML^O21", "ORU^R01", "SIU^S12", "SIU^S14", "SIU^S15", "MDM^T02",
	"VXU^V04", "DFT^P03", "RDE^O11", "BAR^P01",
}

var defaultResources = []string{
	"Patient", "Encounter", "Practitioner", "PractitionerRole", "Organization", "Location",
	"Observation", "DiagnosticReport", "ServiceRequest", "Specimen", "Condition",
	"AllergyIntolerance", "MedicationRequest", "MedicationAdministration", "Immunization",
	"Procedure", "Appointment", "DocumentReference", "Coverage", "Account", "RelatedPerson",
}

// DefaultOptions returns the built-in selector lists.
func DefaultOptions() Options {
	return Options{
		Layouts:   append([]string(nil), defaultLayouts...),
		Resources: append([]string(nil), defaultResources...),
	}
}

// WithOverrides replaces a list when the override is non-empty.
func (o Options) WithOverrides(layouts, resources []string) Options {
	if len(layouts) > 0 {
		o.Layouts = append([]string(nil), layouts...)
	}
	if len(resources) > 0 {
		o.Resources = append([]string(nil), resources...)
	}
	return o
}

// Validate checks both selectors and returns a *ValidationError naming the
// first one that is not an allowed value.
func (o Options) Validate(layout, resource string) error {
	if !contains(o.Layouts, layout) {
		return &ValidationError{Field: "layout", Value: layout, Allowed: o.Layouts}
	}
	if !contains(o.Resources, resource) {
		return &ValidationError{Field: "resource", Value: resource, Allowed: o.Resources}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
