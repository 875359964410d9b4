// Package agent runs a model against a set of tool servers.
//
// An Agent pairs an llm.Client with Toolsets. RunToolServers starts the
// toolsets and returns the handle that stops them. Iter opens a Run for one
// prompt; the run is walked node by node:
//
//	run, err := a.Iter(ctx, "what is 2+2?")
//	if err != nil {
//		return err
//	}
//	defer run.Close()
//	for run.Next(ctx) {
//		switch node := run.Node().(type) {
//		case *agent.ModelRequestNode:
//			stream, err := node.Stream(ctx)
//			...
//		case *agent.CallToolsNode:
//			...
//		}
//	}
//	if err := run.Err(); err != nil {
//		return err
//	}
//
// Model request nodes stream TextDelta events followed by ResponseComplete.
// Call-tools nodes stream a ToolCallRequested and a ToolResultReceived per
// tool call. Nodes the caller skips are still executed when Next moves on.
package agent
