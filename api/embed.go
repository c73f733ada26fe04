// Package api carries the OpenAPI document served by the docs endpoints.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
