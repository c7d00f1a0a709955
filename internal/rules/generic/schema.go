package generic

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaDocs holds the raw JSON Schema text for each RuleType's condition
// shape. A rule row is only registered once its condition validates
// against the schema for its declared ruleType; invalid or unknown
// ruleType rows are logged and skipped.
var schemaDocs = map[RuleType]string{
	TypeProhibition: `{
		"type": "object",
		"required": ["codes"],
		"properties": { "codes": { "type": "array", "items": {"type": "string"}, "minItems": 2 } }
	}`,
	TypeTimeRestriction: `{
		"type": "object",
		"required": ["codes", "expression"],
		"properties": {
			"codes": { "type": "array", "items": {"type": "string"}, "minItems": 1 },
			"windowFrom": { "type": "string" },
			"windowTo": { "type": "string" },
			"expression": { "type": "string" }
		}
	}`,
	TypeRequirement: `{
		"type": "object",
		"required": ["codes", "requiredTag"],
		"properties": {
			"codes": { "type": "array", "items": {"type": "string"}, "minItems": 1 },
			"requiredTag": { "type": "string" }
		}
	}`,
	TypeLocationRestriction: `{
		"type": "object",
		"required": ["codes"],
		"properties": {
			"codes": { "type": "array", "items": {"type": "string"}, "minItems": 1 },
			"requireEp33": { "type": "boolean" },
			"allowedNumeros": { "type": "array", "items": {"type": "string"} }
		}
	}`,
	TypeAgeRestriction: `{
		"type": "object",
		"required": ["codes"],
		"properties": {
			"codes": { "type": "array", "items": {"type": "string"}, "minItems": 1 },
			"minAge": { "type": "integer" },
			"maxAge": { "type": "integer" }
		}
	}`,
	TypeAmountLimit: `{
		"type": "object",
		"required": ["codes", "groupBy", "threshold"],
		"properties": {
			"codes": { "type": "array", "items": {"type": "string"}, "minItems": 1 },
			"groupBy": { "type": "string", "enum": ["doctor_date", "patient_year"] },
			"threshold": { "type": "number" }
		}
	}`,
	TypeMutualExclusion: `{
		"type": "object",
		"required": ["codesA", "codesB", "groupBy"],
		"properties": {
			"codesA": { "type": "array", "items": {"type": "string"}, "minItems": 1 },
			"codesB": { "type": "array", "items": {"type": "string"}, "minItems": 1 },
			"groupBy": { "type": "string", "enum": ["doctor_date", "patient_year", "facture"] }
		}
	}`,
	TypeMissingAnnualOpportunity: `{
		"type": "object",
		"required": ["billedCode", "qualifyingCodes"],
		"properties": {
			"billedCode": { "type": "string" },
			"qualifyingCodes": { "type": "array", "items": {"type": "string"} },
			"qualifyingLevel1Groups": { "type": "array", "items": {"type": "string"} },
			"requireEp33": { "type": "boolean" },
			"excludedTags": { "type": "array", "items": {"type": "string"} },
			"monetaryImpact": { "type": "number" }
		}
	}`,
	TypeAnnualLimit: `{
		"type": "object",
		"required": ["codes", "maxCount"],
		"properties": {
			"codes": { "type": "array", "items": {"type": "string"}, "minItems": 1 },
			"maxCount": { "type": "integer", "minimum": 1 }
		}
	}`,
}

var compiledSchemas = map[RuleType]*jsonschema.Schema{}

func init() {
	for ruleType, doc := range schemaDocs {
		compiler := jsonschema.NewCompiler()
		resource := fmt.Sprintf("mem://%s.json", ruleType)
		if err := compiler.AddResource(resource, bytes.NewReader([]byte(doc))); err != nil {
			panic(fmt.Sprintf("generic rule schema %s is malformed: %v", ruleType, err))
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			panic(fmt.Sprintf("generic rule schema %s failed to compile: %v", ruleType, err))
		}
		compiledSchemas[ruleType] = schema
	}
}

// ValidateCondition parses raw condition JSON and validates it against the
// schema for ruleType. An unknown ruleType or schema-invalid condition
// returns an error; the caller logs and skips the rule row.
func ValidateCondition(ruleType RuleType, rawCondition string) (interface{}, error) {
	schema, ok := compiledSchemas[ruleType]
	if !ok {
		return nil, fmt.Errorf("unknown rule type %q", ruleType)
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(rawCondition), &parsed); err != nil {
		return nil, fmt.Errorf("condition is not valid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("condition failed schema validation: %w", err)
	}
	return parsed, nil
}
