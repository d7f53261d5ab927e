package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Closed schemas for every client -> server payload. Validation happens
// at the transport boundary so handlers never have to probe for missing
// or mistyped keys.
var schemaSources = map[string]string{
	TagIdentify: `{
		"type": "object",
		"properties": {
			"username": {"type": "string"},
			"password": {"type": "string"}
		},
		"required": ["username", "password"],
		"additionalProperties": false
	}`,
	TagMove: `{
		"type": "object",
		"properties": {
			"from": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2},
			"to":   {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2}
		},
		"required": ["from", "to"],
		"additionalProperties": false
	}`,
	TagChat: `{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"],
		"additionalProperties": false
	}`,
	TagCommand: `{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"],
		"additionalProperties": false
	}`,
	TagBag: `{
		"type": "object",
		"properties": {
			"create": {
				"type": "object",
				"properties": {"name": {"type": "string"}, "type": {"type": "integer"}},
				"required": ["name", "type"],
				"additionalProperties": false
			},
			"clone": {"type": "integer"},
			"update": {
				"type": "object",
				"properties": {
					"id": {"type": "integer"},
					"name": {"type": "string"},
					"desc": {"type": "string"},
					"flags": {"type": "integer"},
					"folder": {"type": "integer"},
					"data": {}
				},
				"required": ["id"],
				"additionalProperties": false
			},
			"delete": {"type": "integer"}
		},
		"minProperties": 1,
		"maxProperties": 1,
		"additionalProperties": false
	}`,
	TagMail: `{
		"type": "object",
		"properties": {
			"send": {
				"type": "object",
				"properties": {
					"to": {"type": "array", "items": {"type": "string"}, "minItems": 1},
					"subject": {"type": "string"},
					"contents": {"type": "string"}
				},
				"required": ["to", "subject", "contents"],
				"additionalProperties": false
			},
			"read": {"type": "integer"},
			"delete": {"type": "integer"}
		},
		"minProperties": 1,
		"maxProperties": 1,
		"additionalProperties": false
	}`,
	TagTileset: `{
		"type": "object",
		"properties": {"id": {"type": "integer"}},
		"required": ["id"],
		"additionalProperties": false
	}`,
	TagImage: `{
		"type": "object",
		"properties": {"id": {"type": "integer"}},
		"required": ["id"],
		"additionalProperties": false
	}`,
	TagDelete: `{
		"type": "object",
		"properties": {
			"pos": {"type": "array", "items": {"type": "integer"}, "minItems": 4, "maxItems": 4},
			"turf": {"type": "boolean"},
			"obj": {"type": "boolean"}
		},
		"required": ["pos", "turf", "obj"],
		"additionalProperties": false
	}`,
	TagPut: `{
		"type": "object",
		"properties": {
			"pos": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2},
			"obj": {"type": "boolean"},
			"atom": {}
		},
		"required": ["pos", "atom"],
		"additionalProperties": false
	}`,
	TagBulk: `{
		"type": "object",
		"properties": {
			"turf": {"type": "array", "items": {"type": "array", "minItems": 3, "maxItems": 5}},
			"obj":  {"type": "array", "items": {"type": "array", "minItems": 3, "maxItems": 5}}
		},
		"required": ["turf", "obj"],
		"additionalProperties": false
	}`,
}

// Tags that are valid with no body at all.
var bodyOptional = map[string]bool{
	TagIdentify: true,
	TagPing:     true,
	TagMapInfo:  true,
}

var compiledSchemas = func() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for tag, src := range schemaSources {
		out[tag] = jsonschema.MustCompileString(tag+".schema.json", src)
	}
	return out
}()

// KnownTag reports whether the tag is part of the client command surface.
func KnownTag(tag string) bool {
	if bodyOptional[tag] {
		return true
	}
	_, ok := compiledSchemas[tag]
	return ok
}

// ValidatePayload checks an inbound body against the tag's schema.
func ValidatePayload(tag string, body json.RawMessage) error {
	sch, ok := compiledSchemas[tag]
	if !ok {
		if bodyOptional[tag] {
			return nil
		}
		return fmt.Errorf("unknown command %q", tag)
	}
	if body == nil {
		if bodyOptional[tag] {
			return nil
		}
		return fmt.Errorf("%s requires a payload", tag)
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("%s payload: %w", tag, err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%s payload: %w", tag, err)
	}
	return nil
}
