package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/valdo404/clickplanet-go/internal/click"
)

func writeInvalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, click.CodeInvalidArgument, message)
}

func writePayloadTooLarge(w http.ResponseWriter, limit int64) {
	msg := "request body too large"
	if limit > 0 {
		msg = "request body too large (max " + strconv.FormatInt(limit, 10) + " bytes)"
	}
	WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", msg)
}

func writeDecodeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *requestBodyTooLargeError
	if errors.As(err, &tooLarge) {
		writePayloadTooLarge(w, tooLarge.Limit)
		return
	}
	writeInvalidArgument(w, err.Error())
}

// writeServiceError maps service errors to HTTP response codes.
func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		WriteError(w, http.StatusInternalServerError, click.CodeInternal, "internal server error")
		return
	}

	var svcErr *click.ServiceError
	if errors.As(err, &svcErr) {
		var status int
		switch svcErr.Code {
		case click.CodeInvalidArgument:
			status = http.StatusBadRequest
		case click.CodeStoreUnavailable, click.CodeBusUnavailable, click.CodeResourceExhausted:
			status = http.StatusServiceUnavailable
		case click.CodeDeadlineExceeded:
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusInternalServerError
		}
		WriteError(w, status, svcErr.Code, svcErr.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, click.CodeInternal, "internal server error")
}
