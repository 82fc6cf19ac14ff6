// Package engine orchestrates one generation run end to end: template load,
// parameter binding, graph submission, event-stream monitoring under a
// wall-clock budget, and artifact resolution. Every failure surfaces as a
// structured outcome with a stable error kind.
package engine
