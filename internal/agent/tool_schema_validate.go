package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaValidator compiles and caches tool parameter schemas, keyed by the
// schema's own text so a tool whose schema changes (or two tools sharing
// an identical schema) never serve a stale compiled result.
type schemaValidator struct {
	cache sync.Map // schema text -> *jsonschema.Schema (nil entry = known-uncompilable)
}

var globalSchemaValidator schemaValidator

// validateToolParams checks params against the tool's declared JSON Schema
// before dispatch.
// A tool with an empty or malformed schema is not validated here; that is
// the tool author's mistake, not the caller's, so execution proceeds.
func validateToolParams(toolName string, schema json.RawMessage, params json.RawMessage) error {
	compiled := globalSchemaValidator.compile(toolName, schema)
	if compiled == nil {
		return nil
	}

	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("tool %s: params are not valid JSON: %w", toolName, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("tool %s: params do not match schema: %w", toolName, err)
	}
	return nil
}

func (v *schemaValidator) compile(toolName string, schema json.RawMessage) *jsonschema.Schema {
	if len(schema) == 0 {
		return nil
	}
	key := string(schema)
	if cached, ok := v.cache.Load(key); ok {
		compiled, _ := cached.(*jsonschema.Schema)
		return compiled
	}

	compiled, err := jsonschema.CompileString(toolName+".schema.json", key)
	if err != nil {
		// Schemas authored loosely (e.g. missing "$schema", vendor extensions)
		// are common among hand-written tool definitions; skip validation
		// rather than block execution on a schema we can't compile.
		v.cache.Store(key, (*jsonschema.Schema)(nil))
		return nil
	}
	v.cache.Store(key, compiled)
	return compiled
}
