// Package acp serves the agent over the Agent Client Protocol, so that code
// editors can drive it.
//
// Messages are newline-delimited JSON-RPC 2.0 objects on stdin and stdout.
// Supported methods:
//   - initialize: returns the protocol version and agent capabilities
//   - session/new: creates a conversation and returns its id
//   - session/prompt: runs one user turn and returns stopReason "end_turn"
//
// While a prompt runs, session/update notifications stream agent_message_chunk,
// tool_call and tool_result updates. Nothing but protocol messages is written
// to stdout; diagnostics go to the injected logger.
package acp
