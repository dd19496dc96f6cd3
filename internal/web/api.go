package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/heater-dashboard/internal/control"
	"github.com/sweeney/heater-dashboard/internal/docstore"
	"github.com/sweeney/heater-dashboard/internal/session"
)

func (s *Server) handleGetSchedule(c *gin.Context) {
	sched, ok, err := s.ctrl.ReadSchedule(c.Request.Context())
	if err != nil {
		s.log.Warnw("Read schedule failed", "error", err)
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no schedule stored"})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) handlePostSchedule(c *gin.Context) {
	var sched control.Schedule
	if err := c.ShouldBindJSON(&sched); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.writeResult(c, s.ctrl.PublishSchedule(c.Request.Context(), sched))
}

func (s *Server) handlePostTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.writeResult(c, s.ctrl.SetTargetTemperature(c.Request.Context(), *req.Temperature))
}

func (s *Server) handlePostMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	mode, ok := control.ParseMode(req.Mode)
	if !ok {
		// left as sent so validation names it
		mode = control.Mode(req.Mode)
	}
	s.writeResult(c, s.ctrl.PublishMode(c.Request.Context(), control.ModeSettings{
		Mode:          mode,
		HeaterEnabled: req.HeaterEnabled,
	}))
}

func (s *Server) handleBusCheck(c *gin.Context) {
	d := s.ctrl.CheckBus(c.Request.Context())
	c.JSON(http.StatusOK, busCheckResponse{
		Success: d.Success,
		Error:   d.Error,
		Details: busCheckDetails{
			Broker:      d.Broker,
			Connected:   d.Connected,
			LastError:   d.LastError,
			RoundTripMS: d.RoundTrip.Milliseconds(),
			Timestamp:   d.CheckedAt.UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleReconnect(c *gin.Context) {
	if err := s.ctrl.Reconnect(c.Request.Context()); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, session.ErrNotRunning) {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reconnecting"})
}

// writeResult maps a publish outcome to a status code: 400 for invalid
// input, 200 when both transports took the write, 207 when one did, and
// 403 or 502 when neither did.
func (s *Server) writeResult(c *gin.Context, res control.PublishResult) {
	resp := publishResponse{CloudWritten: res.CloudWritten, BusWritten: res.BusWritten}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	var verr *control.ValidationError
	switch {
	case errors.As(res.Err, &verr):
		resp.Field = verr.Field
		c.JSON(http.StatusBadRequest, resp)
	case res.Err == nil:
		c.JSON(http.StatusOK, resp)
	case res.CloudWritten || res.BusWritten:
		c.JSON(http.StatusMultiStatus, resp)
	case errors.Is(res.Err, docstore.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, resp)
	default:
		c.JSON(http.StatusBadGateway, resp)
	}
}
