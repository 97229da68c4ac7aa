// Package api carries the OpenAPI document compiled into the binary so the
// server can serve it at /openapi.yaml without any filesystem dependency.
package api

import _ "embed"

// OpenAPISpec is the OpenAPI 3.1 description of the HTTP surface.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
