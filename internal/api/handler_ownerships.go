package api

import (
	"context"
	"net/http"
	"time"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
	"github.com/valdo404/clickplanet-go/internal/query"
)

// HandleOwnershipsByBatch returns a handler for POST /api/ownerships-by-batch.
func HandleOwnershipsByBatch(engine *query.Engine, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := DecodeProtoBody(r)
		if err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		req := new(clickpb.BatchRequest)
		if err := req.Unmarshal(payload); err != nil {
			writeInvalidArgument(w, "malformed BatchRequest: "+err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		state, err := engine.Batch(ctx, req.StartTileID, req.EndTileID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteProto(w, http.StatusOK, state.Marshal())
	}
}

// HandleOwnerships returns a handler for GET /api/ownerships. The full dump
// can run large; it gets a wider deadline than point operations.
func HandleOwnerships(engine *query.Engine, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		state, err := engine.All(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteProto(w, http.StatusOK, state.Marshal())
	}
}

// HandleLeaderboard returns a handler for GET /v2/rpc/leaderboard.
func HandleLeaderboard(engine *query.Engine, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		resp, err := engine.Leaderboard(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteProto(w, http.StatusOK, resp.Marshal())
	}
}
