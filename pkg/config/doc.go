// Package config loads versioned configuration files.
//
// A [Loader] validates a document against a JSON schema, decodes it into a
// [v1beta1.Object], and fills in defaults. Decode and validation errors are
// returned as [*yaml.Error]s that point at the offending line.
package config
