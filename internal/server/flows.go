package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/stepflow/pkg/api"
)

type (
	// HealthResponse reports the runtime's status
	HealthResponse struct {
		Status string `json:"status"`
		Steps  int    `json:"steps"`
		Flows  int    `json:"flows"`
	}

	// StepsResponse lists registered steps
	StepsResponse struct {
		Steps []*api.Step `json:"steps"`
		Count int         `json:"count"`
	}

	// FlowsResponse lists the current flows
	FlowsResponse struct {
		Flows []*api.Flow `json:"flows"`
		Count int         `json:"count"`
	}

	// EmitRequest publishes a root event
	EmitRequest struct {
		Data  json.RawMessage `json:"data,omitempty"`
		Topic string          `json:"topic" binding:"required"`
	}

	// EmitResponse carries the trace id of an emitted event
	EmitResponse struct {
		TraceID string `json:"traceId"`
	}
)

const statusOK = "ok"

func (s *Server) handleHealth(c *gin.Context) {
	reg := s.engine.Registry()
	c.JSON(http.StatusOK, HealthResponse{
		Status: statusOK,
		Steps:  len(reg.ActiveSteps()) + len(reg.DevSteps()),
		Flows:  len(reg.Flows()),
	})
}

func (s *Server) listSteps(c *gin.Context) {
	reg := s.engine.Registry()
	steps := append(reg.ActiveSteps(), reg.DevSteps()...)
	c.JSON(http.StatusOK, StepsResponse{Steps: steps, Count: len(steps)})
}

func (s *Server) listFlows(c *gin.Context) {
	flows := s.engine.Registry().Flows()
	c.JSON(http.StatusOK, FlowsResponse{Flows: flows, Count: len(flows)})
}

func (s *Server) getFlow(c *gin.Context) {
	name := c.Param("name")
	fl, ok := s.engine.Registry().Flow(name)
	if !ok {
		abortError(c, http.StatusNotFound,
			fmt.Sprintf("flow not found: %s", name))
		return
	}
	c.JSON(http.StatusOK, fl)
}

func (s *Server) emit(c *gin.Context) {
	var req EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest,
			fmt.Sprintf("invalid emit request: %v", err))
		return
	}

	traceID, err := s.engine.Emit(c.Request.Context(), req.Topic, req.Data)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, EmitResponse{TraceID: traceID})
}
