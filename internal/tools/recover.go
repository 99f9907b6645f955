package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// FormatError renders a tool failure as the tool result the model sees.
func FormatError(err error) string {
	return fmt.Sprintf("Error: %v\n please fix your mistakes.", err)
}

type recoveringTool struct {
	impl tool.InvokableTool
}

// Recover makes t never fail: errors and panics come back as a FormatError result so
// the model can correct its arguments on the next call.
func Recover(t tool.InvokableTool) tool.InvokableTool {
	return &recoveringTool{impl: t}
}

func (t *recoveringTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *recoveringTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = FormatError(fmt.Errorf("tool panicked: %v", r)), nil
		}
	}()

	out, runErr := t.impl.InvokableRun(ctx, argumentsInJSON, opts...)
	if runErr != nil {
		return FormatError(runErr), nil
	}
	return out, nil
}

// UnknownToolHandler answers calls to tools the worker was not given.
func UnknownToolHandler(_ context.Context, name, _ string) (string, error) {
	return FormatError(fmt.Errorf("%w: %s", ErrUnregistered, name)), nil
}
