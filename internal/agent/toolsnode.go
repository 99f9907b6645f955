package agent

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/tools"
)

// NewToolsNode builds the execution node for one worker's tools.
//
// Every tool is audited and wrapped so failures become tool results; calls to
// tools outside the worker's set are answered by tools.UnknownToolHandler. Calls
// run one after another in the order the model issued them.
func NewToolsNode(ctx context.Context, names []tools.Name, registry *tools.Registry, audit tools.AuditSink, log logrus.FieldLogger) (*compose.ToolsNode, error) {
	var impls []tool.BaseTool
	if len(names) > 0 {
		subset, err := registry.Subset(names)
		if err != nil {
			return nil, err
		}
		for _, t := range subset {
			impls = append(impls, tools.Recover(tools.Audit(t, audit, log)))
		}
	}

	return compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               impls,
		UnknownToolsHandler: tools.UnknownToolHandler,
		ExecuteSequentially: true,
	})
}
