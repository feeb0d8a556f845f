package app

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hylla/ideadispatch/internal/domain"
)

//go:embed schemas/dispatch_packet.schema.json
var dispatchPacketSchema string

const dispatchPacketSchemaURL = "https://ideadispatch.local/schemas/dispatch_packet.schema.json"

// compiledPacketSchema compiles the embedded schema once.
var compiledPacketSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(dispatchPacketSchemaURL, strings.NewReader(dispatchPacketSchema)); err != nil {
		return nil, fmt.Errorf("add packet schema resource: %w", err)
	}
	schema, err := compiler.Compile(dispatchPacketSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile packet schema: %w", err)
	}
	return schema, nil
})

// SchemaValidationError describes a deterministic schema-validation failure.
type SchemaValidationError struct {
	Path    string
	Message string
}

// Error renders the schema-validation failure.
func (e SchemaValidationError) Error() string {
	path := strings.TrimSpace(e.Path)
	if path == "" {
		path = "$"
	}
	return fmt.Sprintf("%s: %s", path, e.Message)
}

// PacketValidation is the validator result. Errors is never nil.
type PacketValidation struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors"`
	QualityWarnings []string `json:"quality_warnings,omitempty"`
}

// ValidateDispatchV2 checks one packet against the dispatch.v2 contract. It never panics.
func ValidateDispatchV2(packet domain.DispatchPacket) PacketValidation {
	raw, err := json.Marshal(packet)
	if err != nil {
		return invalidPacket(SchemaValidationError{Path: "$", Message: fmt.Sprintf("encode packet: %v", err)})
	}
	return ValidateDispatchJSON(raw)
}

// ValidateDispatchJSON checks raw packet JSON against the dispatch.v2 contract. It never panics.
func ValidateDispatchJSON(raw []byte) (result PacketValidation) {
	defer func() {
		if r := recover(); r != nil {
			result = invalidPacket(SchemaValidationError{Path: "$", Message: fmt.Sprintf("validator failure: %v", r)})
		}
	}()

	raw = bytes.TrimSpace(raw)
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return invalidPacket(SchemaValidationError{Path: "$", Message: fmt.Sprintf("invalid JSON payload: %v", err)})
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		return invalidPacket(SchemaValidationError{Path: "$", Message: "packet must be a JSON object"})
	}

	result = PacketValidation{Errors: []string{}}
	for _, failure := range contractFailures(doc) {
		result.Errors = append(result.Errors, failure.Error())
	}
	for _, failure := range structuralFailures(decoded) {
		result.Errors = append(result.Errors, failure.Error())
	}
	if outcome, ok := doc["intended_outcome"].(map[string]any); ok {
		if source, _ := outcome["source"].(string); source == string(domain.NarrativeSourceAuto) {
			result.QualityWarnings = append(result.QualityWarnings,
				"intended_outcome.source is auto: narrative was derived from the diff, not authored by an operator")
		}
	}
	result.Valid = len(result.Errors) == 0
	return result
}

// contractFailures applies the hard v2 rules in a fixed order.
func contractFailures(doc map[string]any) []SchemaValidationError {
	var out []SchemaValidationError
	version, _ := doc["schema_version"].(string)
	if version != domain.SchemaDispatchV2 {
		out = append(out, SchemaValidationError{
			Path:    "$.schema_version",
			Message: fmt.Sprintf("expected %q, got %q", domain.SchemaDispatchV2, version),
		})
	}
	if why, _ := doc["why"].(string); strings.TrimSpace(why) == "" {
		out = append(out, SchemaValidationError{Path: "$.why", Message: "must be a non-blank string"})
	}
	outcome, ok := doc["intended_outcome"].(map[string]any)
	if !ok {
		out = append(out, SchemaValidationError{Path: "$.intended_outcome", Message: "is required"})
		return out
	}
	if statement, _ := outcome["statement"].(string); strings.TrimSpace(statement) == "" {
		out = append(out, SchemaValidationError{Path: "$.intended_outcome.statement", Message: "must be a non-blank string"})
	}
	return out
}

// structuralFailures checks every other field against the embedded JSON schema.
func structuralFailures(decoded any) []SchemaValidationError {
	schema, err := compiledPacketSchema()
	if err != nil {
		return []SchemaValidationError{{Path: "$", Message: fmt.Sprintf("packet schema unavailable: %v", err)}}
	}
	err = schema.Validate(decoded)
	if err == nil {
		return nil
	}
	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []SchemaValidationError{{Path: "$", Message: err.Error()}}
	}
	var out []SchemaValidationError
	collectLeafFailures(validationErr, &out)
	slices.SortFunc(out, func(a, b SchemaValidationError) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.Message, b.Message)
	})
	return slices.Compact(out)
}

// collectLeafFailures flattens the jsonschema cause tree into its most specific failures.
func collectLeafFailures(err *jsonschema.ValidationError, out *[]SchemaValidationError) {
	if len(err.Causes) == 0 {
		*out = append(*out, SchemaValidationError{Path: jsonPointerPath(err.InstanceLocation), Message: err.Message})
		return
	}
	for _, cause := range err.Causes {
		collectLeafFailures(cause, out)
	}
}

// jsonPointerPath converts "/a/b" to "$.a.b".
func jsonPointerPath(pointer string) string {
	pointer = strings.Trim(pointer, "/")
	if pointer == "" {
		return "$"
	}
	return "$." + strings.ReplaceAll(pointer, "/", ".")
}

func invalidPacket(failure SchemaValidationError) PacketValidation {
	return PacketValidation{Errors: []string{failure.Error()}}
}
