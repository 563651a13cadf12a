//go:build swagger

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// apiDoc is the hand-maintained fallback served until `swag init` output
// replaces it under the same instance name.
const apiDoc = `{
  "swagger": "2.0",
  "info": {"title": "{{.Title}}", "version": "{{.Version}}", "description": "{{escape .Description}}"},
  "basePath": "{{.BasePath}}",
  "paths": {
    "/v1/models": {"get": {"summary": "List models"}, "post": {"summary": "Register a model"}},
    "/v1/models/{id}": {"get": {"summary": "Get one model"}, "delete": {"summary": "Unregister a model"}},
    "/v1/models/{id}/health": {"get": {"summary": "Probe one model"}},
    "/v1/health": {"get": {"summary": "Probe every model"}},
    "/v1/stats": {"get": {"summary": "Statistics"}},
    "/v1/completions": {"post": {"summary": "Text completion"}},
    "/v1/chat": {"post": {"summary": "Chat turn"}},
    "/v1/embeddings": {"post": {"summary": "Embeddings"}},
    "/v1/classify": {"post": {"summary": "Classification"}},
    "/v1/rpc": {"post": {"summary": "One protocol envelope"}}
  }
}`

var swaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Title:            "modelgate API",
	Description:      "Multi-tenant gateway for local inference backends.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  apiDoc,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	if _, err := swag.ReadDoc(swaggerInfo.InstanceName()); err != nil {
		swag.Register(swaggerInfo.InstanceName(), swaggerInfo)
	}
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/swagger/index.html", http.StatusMovedPermanently)
	})
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
