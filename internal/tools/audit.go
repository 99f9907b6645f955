package tools

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/storage"
)

const auditTruncateLimit = 2048

// AuditSink receives one record per tool invocation.
type AuditSink interface {
	InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error
	UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error
}

type traceKey struct{}

// Trace identifies the inbound message a tool call is made for.
type Trace struct {
	ID       string
	ThreadID string
}

func WithTrace(ctx context.Context, tr Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, tr)
}

func TraceFrom(ctx context.Context) Trace {
	if v, ok := ctx.Value(traceKey{}).(Trace); ok {
		return v
	}
	return Trace{}
}

type auditedTool struct {
	impl tool.InvokableTool
	sink AuditSink
	log  logrus.FieldLogger
}

// Audit records every invocation of t. Audit failures are logged and never affect the call.
func Audit(t tool.InvokableTool, sink AuditSink, log logrus.FieldLogger) tool.InvokableTool {
	if sink == nil {
		return t
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &auditedTool{impl: t, sink: sink, log: log}
}

func (t *auditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *auditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	action := "unknown"
	if info, err := t.impl.Info(ctx); err == nil && info != nil {
		action = info.Name
	}

	tr := TraceFrom(ctx)
	log := t.log.WithFields(logrus.Fields{"tool": action, "trace_id": tr.ID, "thread_id": tr.ThreadID})

	record := &storage.AuditRecord{
		TraceID:    tr.ID,
		ThreadID:   tr.ThreadID,
		Action:     action,
		ParamsJSON: truncate(argumentsInJSON, auditTruncateLimit),
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	if err := t.sink.InsertAuditRecord(ctx, record); err != nil {
		log.WithError(err).Warn("insert audit record")
	}

	result, runErr := t.impl.InvokableRun(ctx, argumentsInJSON, opts...)

	finishedAt := time.Now().UTC()
	status := "success"
	update := storage.AuditUpdate{Status: &status, FinishedAt: &finishedAt}
	if runErr != nil {
		status = "failed"
		e := truncate(runErr.Error(), auditTruncateLimit)
		update.ErrorMessage = &e
		log.WithError(runErr).Info("tool call failed")
	} else {
		r := truncate(result, auditTruncateLimit)
		update.ResultJSON = &r
	}

	if record.ID != 0 {
		if err := t.sink.UpdateAuditRecord(ctx, record.ID, update); err != nil {
			log.WithError(err).Warn("update audit record")
		}
	}
	return result, runErr
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
