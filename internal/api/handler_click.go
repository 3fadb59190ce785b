package api

import (
	"context"
	"net/http"
	"time"

	"github.com/valdo404/clickplanet-go/internal/click"
	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

// HandleClick returns a handler for POST /api/click.
func HandleClick(coordinator *click.Coordinator, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := DecodeProtoBody(r)
		if err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		req := new(clickpb.ClickRequest)
		if err := req.Unmarshal(payload); err != nil {
			writeInvalidArgument(w, "malformed ClickRequest: "+err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		resp, err := coordinator.Click(ctx, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteProto(w, http.StatusOK, resp.Marshal())
	}
}
