// Package config loads the engine's runtime configuration from
// GATEHOUSE_* environment variables and validates it before anything
// else starts. Validation fails fast: a misconfigured store or catalog
// source is a deploy defect, not something to limp along with.
package config
