package middleware

import (
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	httpctx "vidbranch/internal/http/ctx"
	"vidbranch/internal/logging"
	"vidbranch/internal/metrics"
)

// RequestLogger logs every request and records its duration. The route
// label is the matched route pattern so path ids do not explode cardinality.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		reqID := string(ctx.Request.Header.Peek("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		httpctx.SetRequestID(ctx, reqID)
		ctx.Response.Header.Set("X-Request-ID", reqID)

		next(ctx)

		elapsed := time.Since(start)
		status := ctx.Response.StatusCode()
		route, _ := ctx.UserValue(router.MatchedRoutePathParam).(string)
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestDuration.WithLabelValues(route, string(ctx.Method()), strconv.Itoa(status)).Observe(elapsed.Seconds())

		ev := logging.Info()
		if status >= fasthttp.StatusInternalServerError {
			ev = logging.Error()
		}
		ev.Str("request_id", reqID).
			Bytes("method", ctx.Method()).
			Bytes("path", ctx.Path()).
			Int("status", status).
			Dur("duration", elapsed).
			Str("ip", ctx.RemoteIP().String()).
			Msg("request")
	}
}
