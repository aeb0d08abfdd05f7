// Package tools defines the capability contract the orchestrator dispatches
// through, the name-to-capability registry, and the built-in web search tool.
// Registry execution never raises: unknown names, bad arguments, and provider
// faults all come back as text content for the model to read.
package tools
