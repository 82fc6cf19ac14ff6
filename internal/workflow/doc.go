// Package workflow loads ComfyUI workflow graph templates and binds
// per-request generation parameters into them. Templates are node-id keyed
// JSON graphs; binding works from a declarative slot table validated against
// the loaded graph, and never mutates the stored template.
package workflow
