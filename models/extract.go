package models

// FieldSelector describes how to read one named field from a page.
type FieldSelector struct {
	Selector string `json:"selector" yaml:"selector"`
	// Type is one of "text" (default), "html", "attribute", "href", "src".
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Attribute names the attribute read when Type is "attribute".
	Attribute string `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	// Multiple returns every match instead of the first.
	Multiple bool `json:"multiple,omitempty" yaml:"multiple,omitempty"`
}

// ExtractRequest is the payload for POST /api/v1/extract.
type ExtractRequest struct {
	URL    string                   `json:"url"`
	Fields map[string]FieldSelector `json:"fields"`
	// Options is the scrape template used to load the page.
	Options ScrapeRequest `json:"options"`
}

// Validate rejects malformed extraction requests.
func (r *ExtractRequest) Validate() error {
	if err := ValidateURL(r.URL); err != nil {
		return err
	}
	if len(r.Fields) == 0 {
		return invalid("fields must not be empty")
	}
	for name, f := range r.Fields {
		if f.Selector == "" {
			return invalid("fields.%s: selector is required", name)
		}
		if err := ValidateSelector(f.Selector); err != nil {
			return err
		}
		switch f.Type {
		case "", "text", "html", "href", "src":
		case "attribute":
			if f.Attribute == "" {
				return invalid("fields.%s: attribute type requires attribute", name)
			}
		default:
			return invalid("fields.%s: unknown type %q", name, f.Type)
		}
	}
	return nil
}

// MultiExtractResult holds per-field values. A field either has a value in
// Data or a message in Errors, never both.
type MultiExtractResult struct {
	Success bool              `json:"success"`
	URL     string            `json:"url"`
	Data    map[string]any    `json:"data"`
	Errors  map[string]string `json:"errors,omitempty"`
	Error   *ErrorDetail      `json:"error,omitempty"`
}
