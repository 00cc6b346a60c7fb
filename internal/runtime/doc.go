// Package runtime wires storage, configuration, and every coordinator
// component into a single-node steward instance. Open builds the graph and
// validates configuration; Run drives the component loops until shutdown.
package runtime
