package review

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// ErrInvalidPayload is returned when a computed payload does not match its schema.
var ErrInvalidPayload = errors.New("review payload failed schema validation")

//go:embed schemas/*.json
var schemaFS embed.FS

type schemaSet struct {
	summary *openapi3.Schema
	trends  *openapi3.Schema
	result  *openapi3.Schema
}

var schemas = mustLoadSchemas()

func mustLoadSchemas() *schemaSet {
	fieldSummary := mustReadSchema("schemas/field_summary.json")
	fieldTrend := mustReadSchema("schemas/field_trend.json")

	result := mustReadSchema("schemas/result.json")
	result.Properties["summary"] = openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(fieldSummary))
	result.Properties["trends"] = openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(fieldTrend))

	return &schemaSet{
		summary: reportSchema(fieldSummary),
		trends:  reportSchema(fieldTrend),
		result:  result,
	}
}

func mustReadSchema(name string) *openapi3.Schema {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	var s openapi3.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		panic(fmt.Sprintf("parse schema %s: %v", name, err))
	}
	if s.Properties == nil {
		s.Properties = openapi3.Schemas{}
	}
	return &s
}

func reportSchema(items *openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("experimentId", openapi3.NewStringSchema()).
		WithProperty("fields", openapi3.NewArraySchema().WithItems(items))
	s.Required = []string{"experimentId", "fields"}
	return s
}

// ValidateSummaryReport checks a summary payload against the fixed schema.
func ValidateSummaryReport(r *SummaryReport) error {
	return validate(schemas.summary, r)
}

// ValidateTrendReport checks a trend payload against the fixed schema.
func ValidateTrendReport(r *TrendReport) error {
	return validate(schemas.trends, r)
}

// ValidateResult checks a combined review payload against the fixed schema.
func ValidateResult(r *Result) error {
	return validate(schemas.result, r)
}

func validate(schema *openapi3.Schema, payload any) error {
	if payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrInvalidPayload, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", ErrInvalidPayload, err)
	}
	if err := schema.VisitJSON(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
