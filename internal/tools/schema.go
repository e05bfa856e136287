package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor reflects the JSON Schema of an argument struct. Fields without
// omitempty are required and unknown properties are rejected.
func SchemaFor(v any) map[string]any {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("reflecting tool schema: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("decoding tool schema: %v", err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

func compileSchema(name string, schema map[string]any) (*jsv.Schema, error) {
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	url := "mem://tools/" + name + ".json"
	c := jsv.NewCompiler()
	c.Draft = jsv.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// decodeArgs parses raw arguments for validation. Empty input is an empty object.
func decodeArgs(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

var quoted = regexp.MustCompile(`'([^']+)'`)

// violation returns the field and message of the most specific cause.
func violation(err error) (field, msg string) {
	var ve *jsv.ValidationError
	if !errors.As(err, &ve) {
		return "", err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field = strings.TrimPrefix(ve.InstanceLocation, "/")
	field = strings.ReplaceAll(field, "/", ".")
	if field == "" || strings.HasSuffix(ve.KeywordLocation, "/required") || strings.HasSuffix(ve.KeywordLocation, "/additionalProperties") {
		if m := quoted.FindStringSubmatch(ve.Message); m != nil {
			if field != "" {
				field += "." + m[1]
			} else {
				field = m[1]
			}
		}
	}
	return field, ve.Message
}
