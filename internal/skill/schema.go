package skill

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const descriptorSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "name": {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
    "version": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+){0,2}([-+][0-9A-Za-z.-]+)?$"},
    "description": {"type": "string"},
    "keywords": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "parameters": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "type": {"enum": ["string", "number", "integer", "boolean", "object", "array"]},
          "required": {"type": "boolean"},
          "description": {"type": "string"}
        },
        "required": ["type"]
      }
    },
    "action": {"type": "string", "minLength": 1},
    "examples": {"type": "array", "items": {"type": "string"}}
  }
}`

var descriptorSchema = mustSchema(descriptorSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile descriptor schema: %v", err))
	}
	return s
}

// validateDocument checks a decoded descriptor document against the schema.
func validateDocument(doc map[string]any) error {
	res, err := descriptorSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate descriptor: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid descriptor: %s", strings.Join(msgs, "; "))
}
