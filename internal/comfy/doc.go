// Package comfy is the thin protocol adapter for the external compute engine
// (a ComfyUI server): graph submission over HTTP, history queries, and the
// websocket event stream a monitoring session consumes. It carries no
// orchestration logic of its own.
package comfy
