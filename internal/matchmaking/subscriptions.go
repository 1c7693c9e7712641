package matchmaking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/internal/online"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/metrics"
)

// request 记录一次已安装完成回调的请求。
type request struct {
	handle    online.DelegateHandle
	ctx       context.Context
	span      trace.Span
	startedAt time.Time
}

func (r *request) installed() bool {
	return r.handle.IsValid()
}

// duplicate 判断 kind 是否已有请求在进行。重复请求不会到达 Provider，
// 由调用方直接通知失败，进行中的请求保持不变。
func (o *Orchestrator) duplicate(kind online.OpKind) bool {
	if !o.requests[kind].installed() {
		return false
	}
	o.Logger().RatedWarn(1, "session request already in flight, reject duplicate",
		log.FieldOperation(kind.String()))
	metrics.SessionRequests.WithLabelValues(o.subsystem, kind.String(), metrics.OutcomeDuplicate).Inc()
	return true
}

// install 在发出请求前为 kind 安装完成回调，调用方需先用 duplicate 检查。
func (o *Orchestrator) install(kind online.OpKind) {
	var h online.DelegateHandle
	switch kind {
	case online.OpCreate:
		h = o.provider.AddOnCreateSessionComplete(o.onCreateSessionComplete)
	case online.OpFind:
		h = o.provider.AddOnFindSessionsComplete(o.onFindSessionsComplete)
	case online.OpJoin:
		h = o.provider.AddOnJoinSessionComplete(o.onJoinSessionComplete)
	case online.OpStart:
		h = o.provider.AddOnStartSessionComplete(o.onStartSessionComplete)
	case online.OpDestroy:
		h = o.provider.AddOnDestroySessionComplete(o.onDestroySessionComplete)
	}

	ctx, span := log.NewIntentContext(moduleName, kind.String()+"Session")
	ctx = log.WithSession(ctx, online.GameSessionName)
	o.requests[kind] = request{
		handle:    h,
		ctx:       ctx,
		span:      span,
		startedAt: time.Now(),
	}
	metrics.InFlightRequests.WithLabelValues(kind.String()).Inc()
}

// clear 移除 kind 的完成回调，每次请求只调用一次。
func (o *Orchestrator) clear(kind online.OpKind) {
	req := o.requests[kind]
	if !req.installed() {
		o.Logger().Warn("clear completion delegate which is not installed",
			log.FieldOperation(kind.String()))
		return
	}

	switch kind {
	case online.OpCreate:
		o.provider.ClearOnCreateSessionComplete(req.handle)
	case online.OpFind:
		o.provider.ClearOnFindSessionsComplete(req.handle)
	case online.OpJoin:
		o.provider.ClearOnJoinSessionComplete(req.handle)
	case online.OpStart:
		o.provider.ClearOnStartSessionComplete(req.handle)
	case online.OpDestroy:
		o.provider.ClearOnDestroySessionComplete(req.handle)
	}
	o.requests[kind] = request{}

	metrics.InFlightRequests.WithLabelValues(kind.String()).Dec()
	metrics.SessionRequestLatency.WithLabelValues(o.subsystem, kind.String()).
		Observe(float64(time.Since(req.startedAt).Milliseconds()))
	if req.span != nil {
		req.span.End()
	}
}

// requestCtx 返回 kind 当前请求的上下文，用于日志。
func (o *Orchestrator) requestCtx(kind online.OpKind) context.Context {
	if ctx := o.requests[kind].ctx; ctx != nil {
		return ctx
	}
	return context.Background()
}

func (o *Orchestrator) recordRequest(kind online.OpKind, accepted bool) {
	outcome := metrics.OutcomeAccepted
	if !accepted {
		outcome = metrics.OutcomeRejected
		log.Ctx(o.requestCtx(kind)).Info("session request rejected by provider",
			zap.String("subsystem", o.subsystem),
			log.FieldOperation(kind.String()))
	}
	metrics.SessionRequests.WithLabelValues(o.subsystem, kind.String(), outcome).Inc()
}

func (o *Orchestrator) recordCompletion(kind online.OpKind, ok bool) {
	outcome := metrics.OutcomeSuccess
	if !ok {
		outcome = metrics.OutcomeFailure
	}
	metrics.SessionCompletions.WithLabelValues(o.subsystem, kind.String(), outcome).Inc()
}
