// Package service wraps an agent run for a frontend.
//
// A Service owns one agent and the tool server it talks to. Frontends call
// ProcessInput once per user turn; model text deltas, tool calls and tool
// results are handed to the Callbacks as they arrive and collected into the
// returned Response.
//
//	svc, err := service.New(ctx, "You are a calculator.", service.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	return svc.Do(ctx, func(svc *service.Service) error {
//		resp := svc.ProcessInput(ctx, "2+2", nil, service.Callbacks{
//			OnAssistantMessage: func(delta string) { fmt.Print(delta) },
//		})
//		if resp.Error != "" {
//			return errors.New(resp.Error)
//		}
//		return nil
//	})
//
// A Service handles one ProcessInput call at a time. Use one Service per
// concurrent conversation.
package service
