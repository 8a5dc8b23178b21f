package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leighmacdonald/scorebot/pkg/rcon"
	"github.com/leighmacdonald/scorebot/pkg/scorebot"
	"github.com/pkg/errors"
)

// eventResponse tags each event with its type name.
type eventResponse struct {
	Type  string         `json:"type"`
	Event scorebot.Event `json:"event"`
}

type commandRequest struct {
	Command string `json:"command"`
}

func getStatus(source Source) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		responseOK(ctx, http.StatusOK, source.Snapshot())
	}
}

func getEvents(source Source) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		events := source.Recent()
		out := make([]eventResponse, len(events))

		for i, event := range events {
			out[i] = eventResponse{Type: event.Type().String(), Event: event}
		}

		responseOK(ctx, http.StatusOK, out)
	}
}

func postCommand(source Source) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req commandRequest
		if !bind(ctx, &req) {
			return
		}

		if strings.TrimSpace(req.Command) == "" {
			responseErr(ctx, http.StatusBadRequest, gin.H{"error": "Empty command"})

			return
		}

		if errSend := source.Send(ctx, req.Command); errSend != nil {
			status := http.StatusInternalServerError
			if errors.Is(errSend, rcon.ErrNotConnected) || errors.Is(errSend, rcon.ErrUnauthenticated) {
				status = http.StatusServiceUnavailable
			}

			responseErr(ctx, status, gin.H{"error": errSend.Error()})

			return
		}

		responseOK(ctx, http.StatusAccepted, gin.H{})
	}
}
