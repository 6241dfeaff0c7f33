package handler

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/meshmcp/meshmcp/pkg/cache"
	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/jsonrpc"
	"github.com/meshmcp/meshmcp/pkg/logger"
)

// handleAggregation implements spec.md §4.7's special contract for
// tools/list, resources/list and prompts/list: fan out to every admittable
// backend in parallel, merge the unioned result lists de-duplicated by
// primary key, and cache the merged result. A backend failing does not
// fail the aggregation as a whole — it is logged and simply contributes
// nothing to the union.
func (h *Handler) handleAggregation(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	cacheable := cache.Cacheable(req.Method)
	key := jsonrpc.CacheKey(req.Method, req.Params)

	if cacheable {
		if cached, hit := h.cache.Get(req.Method, key); hit {
			return jsonrpc.NewResultResponse(req.ID, cached)
		}
	}

	snap := h.reg.Current()
	var allIDs []string
	for _, d := range snap.All() {
		if d.Enabled {
			allIDs = append(allIDs, d.ID)
		}
	}
	admittable := h.router.FilterAdmittable(allIDs)
	if len(admittable) == 0 {
		return errorResponseFor(req.ID, mcperrors.NewAllBackendsUnhealthyError(req.Method, nil))
	}

	outgoing, _ := json.Marshal(req)

	type partial struct {
		backendID string
		result    json.RawMessage
		err       error
	}
	partials := make([]partial, len(admittable))

	var g errgroup.Group
	for i, id := range admittable {
		i, id := i, id
		g.Go(func() error {
			raw, err := h.submit(ctx, snap, id, req.Method, outgoing)
			if err != nil {
				partials[i] = partial{backendID: id, err: err}
				return nil
			}
			result, err := extractResult(raw)
			partials[i] = partial{backendID: id, result: result, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var ok int
	merged := newUnion(req.Method)
	for _, p := range partials {
		if p.err != nil {
			logger.Warnw("fan-out aggregation: backend failed, excluding from union",
				"backend", p.backendID, "method", req.Method, "error", p.err)
			continue
		}
		if err := merged.add(p.result); err != nil {
			logger.Warnw("fan-out aggregation: backend returned unparsable result, excluding from union",
				"backend", p.backendID, "method", req.Method, "error", err)
			continue
		}
		ok++
	}
	if ok == 0 {
		return errorResponseFor(req.ID, mcperrors.NewAllBackendsUnhealthyError(req.Method, nil))
	}

	result, err := merged.marshal()
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "failed to merge aggregation: "+err.Error())
	}

	if cacheable {
		h.cache.Set(req.Method, key, result)
	}
	return jsonrpc.NewResultResponse(req.ID, result)
}
