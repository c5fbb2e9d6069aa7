// Package swagger serves the OpenAPI document and a ReDoc page for it.
package swagger

import _ "embed"

// OpenAPI contains the embedded OpenAPI document.
//
//go:embed openapi.yaml
var OpenAPI []byte
