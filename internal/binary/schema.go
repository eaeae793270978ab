package binary

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	releaseSchemaURL = "https://github.com/cfschilham/kryer/schemas/release.json"
	assetsSchemaURL  = "https://github.com/cfschilham/kryer/schemas/assets.json"
)

const releaseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["assets_url"],
  "properties": {
    "tag_name": {"type": "string"},
    "name": {"type": ["string", "null"]},
    "assets_url": {"type": "string", "minLength": 1},
    "assets": {"type": "array"}
  }
}`

const assetsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name", "browser_download_url"],
    "properties": {
      "name": {"type": "string", "minLength": 1},
      "browser_download_url": {"type": "string", "minLength": 1},
      "size": {"type": "integer", "minimum": 0}
    }
  }
}`

type compiledSchemas struct {
	release *jsonschema.Schema
	assets  *jsonschema.Schema
}

var (
	schemasOnce sync.Once
	schemas     compiledSchemas
	schemasErr  error
)

// loadSchemas compiles the embedded response schemas once per process.
func loadSchemas() (compiledSchemas, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for url, src := range map[string]string{
			releaseSchemaURL: releaseSchema,
			assetsSchemaURL:  assetsSchema,
		} {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
			if err != nil {
				schemasErr = fmt.Errorf("parse schema %s: %w", url, err)
				return
			}
			if err := c.AddResource(url, doc); err != nil {
				schemasErr = fmt.Errorf("add schema %s: %w", url, err)
				return
			}
		}

		if schemas.release, schemasErr = c.Compile(releaseSchemaURL); schemasErr != nil {
			return
		}
		schemas.assets, schemasErr = c.Compile(assetsSchemaURL)
	})
	return schemas, schemasErr
}
