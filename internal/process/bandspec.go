package process

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Sample types accepted by the Process API output definition.
var sampleTypes = map[string]bool{
	"INT8":    true,
	"UINT8":   true,
	"INT16":   true,
	"UINT16":  true,
	"FLOAT32": true,
	"AUTO":    true,
}

var bandPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidBandCode reports whether b can be used as a band identifier in the
// evalscript and in output file names.
func ValidBandCode(b string) bool {
	return bandPattern.MatchString(b)
}

// BandSpec is the typed band selection from which the evalscript is
// generated. Each band becomes its own single-band output.
type BandSpec struct {
	Bands      []string
	SampleType string
	Units      string
}

// Validate checks the spec. It is called once at startup.
func (s BandSpec) Validate() error {
	if len(s.Bands) == 0 {
		return fmt.Errorf("%w: at least one band is required", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(s.Bands))
	for _, b := range s.Bands {
		if !ValidBandCode(b) {
			return fmt.Errorf("%w: invalid band identifier %q", ErrInvalidRequest, b)
		}
		if seen[b] {
			return fmt.Errorf("%w: duplicate band %q", ErrInvalidRequest, b)
		}
		seen[b] = true
	}
	if !sampleTypes[strings.ToUpper(s.SampleType)] {
		return fmt.Errorf("%w: unsupported sample type %q", ErrInvalidRequest, s.SampleType)
	}
	if s.Units != "DN" && s.Units != "REFLECTANCE" {
		return fmt.Errorf("%w: unsupported units %q", ErrInvalidRequest, s.Units)
	}
	return nil
}

var evalscriptTemplate = template.Must(template.New("evalscript").Funcs(template.FuncMap{
	"quote": func(s string) string { return `"` + s + `"` },
}).Parse(`//VERSION=3
function setup() {
  return {
    input: [{
      bands: [{{range $i, $b := .Bands}}{{if $i}}, {{end}}{{quote $b}}{{end}}],
      units: {{quote .Units}}
    }],
    output: [
{{- range $i, $b := .Bands}}{{if $i}},{{end}}
      { id: {{quote $b}}, bands: 1, sampleType: {{quote $.SampleType}} }
{{- end}}
    ]
  };
}

function evaluatePixel(sample) {
  return {
{{- range $i, $b := .Bands}}{{if $i}},{{end}}
    {{$b}}: [sample.{{$b}}]
{{- end}}
  };
}
`))

// Evalscript renders the processing script for the spec.
func (s BandSpec) Evalscript() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	data := BandSpec{Bands: s.Bands, SampleType: strings.ToUpper(s.SampleType), Units: s.Units}
	var sb strings.Builder
	if err := evalscriptTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render evalscript: %w", err)
	}
	return sb.String(), nil
}
