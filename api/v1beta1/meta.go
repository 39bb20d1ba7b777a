// Package v1beta1 contains the v1beta1 API types for nominal configuration.
package v1beta1

import "github.com/invopop/jsonschema"

// APIVersion is the current API version for all nominal configuration kinds.
const APIVersion = "nominal.aaghdai.com/v1beta1"

// ValidAPIVersions contains all valid API versions.
var ValidAPIVersions = []string{APIVersion}

// TypeMeta contains the API version and kind metadata common to all config types.
type TypeMeta struct {
	// APIVersion specifies the API version for this configuration.
	APIVersion string `json:"apiVersion" jsonschema:"title=API Version"`
	// Kind defines the type of configuration.
	Kind string `json:"kind" jsonschema:"title=Kind"`
}

// GetAPIVersion returns the API version.
func (tm TypeMeta) GetAPIVersion() string {
	return tm.APIVersion
}

// GetKind returns the kind.
func (tm TypeMeta) GetKind() string {
	return tm.Kind
}

// Object is the interface that all config types implement.
type Object interface {
	GetAPIVersion() string
	GetKind() string
	EnsureDefaults()
}

// ExtendSchemaWithEnums restricts the apiVersion and kind properties of jss
// to the given values. It panics if either property is missing.
func ExtendSchemaWithEnums(jss *jsonschema.Schema, apiVersions, kinds []string) {
	restrict(jss, "apiVersion", "API Version", apiVersions)
	restrict(jss, "kind", "Kind", kinds)
}

func restrict(jss *jsonschema.Schema, prop, title string, values []string) {
	s, ok := jss.Properties.Get(prop)
	if !ok {
		panic(prop + " property not found in schema")
	}

	for _, v := range values {
		s.OneOf = append(s.OneOf, &jsonschema.Schema{Type: "string", Const: v, Title: title})
	}

	jss.Properties.Set(prop, s)
}
