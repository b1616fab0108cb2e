package handlers

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"vidbranch/internal/access"
	"vidbranch/internal/apperr"
	dbpkg "vidbranch/internal/db"
	"vidbranch/internal/metrics"
)

// ProjectMetricsHandler exposes Prometheus series restricted to the projects
// of the organization owning the widget-key query parameter.
func ProjectMetricsHandler(store *dbpkg.Store, gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := string(ctx.QueryArgs().Peek("widget-key"))
		if key == "" {
			writeJSON(ctx, fasthttp.StatusUnauthorized, errorBody{Error: "missing widget-key query parameter"})
			return
		}

		org, err := store.OrganizationByWidgetKey(ctx, key)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				writeJSON(ctx, fasthttp.StatusUnauthorized, errorBody{Error: "invalid widget key"})
				return
			}
			writeError(ctx, err)
			return
		}
		if !access.KeyMatches(org.WidgetKey, key) {
			writeJSON(ctx, fasthttp.StatusUnauthorized, errorBody{Error: "invalid widget key"})
			return
		}

		projectIDs, err := store.ProjectIDsForOrganization(ctx, org.ID)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ids := make(map[string]bool, len(projectIDs))
		for _, id := range projectIDs {
			ids[id] = true
		}

		families, err := gatherer.Gather()
		if err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to gather metrics"})
			return
		}

		var buf bytes.Buffer
		if err := metrics.Encode(&buf, metrics.FilterProjects(families, ids)); err != nil {
			writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "failed to encode metrics"})
			return
		}

		ctx.SetContentType(metrics.ContentType)
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}
