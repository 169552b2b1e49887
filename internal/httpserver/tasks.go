package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OldManSaturn/siem-saltbuild/internal/supervisor"
)

type startTaskRequest struct {
	Port    *int `json:"port"`
	TCPPort *int `json:"tcp_port"`
	UDPPort *int `json:"udp_port"`
}

// ports resolves the request to a TCP/UDP pair. "port" applies to both
// protocols unless the per-protocol field is set.
func (r startTaskRequest) ports() (tcp, udp uint16, err error) {
	pick := func(specific *int, name string) (uint16, error) {
		p := specific
		if p == nil {
			p = r.Port
		}
		if p == nil {
			return 0, errors.New(name + " is required (or set port)")
		}
		if *p < 1 || *p > 65535 {
			return 0, errors.New(name + " must be between 1 and 65535")
		}
		return uint16(*p), nil
	}

	if tcp, err = pick(r.TCPPort, "tcp_port"); err != nil {
		return 0, 0, err
	}
	if udp, err = pick(r.UDPPort, "udp_port"); err != nil {
		return 0, 0, err
	}
	return tcp, udp, nil
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks := s.tasks.Tasks()
	if tasks == nil {
		tasks = []supervisor.TaskInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleStartTask(c *gin.Context) {
	var req startTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	tcpPort, udpPort, err := req.ports()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.tasks.StartPair(tcpPort, udpPort)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task_id": id})
}

func (s *Server) handleStopAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.stopTimeout)
	defer cancel()

	stopped := len(s.tasks.Tasks())
	if err := s.tasks.StopAll(ctx); err != nil {
		// Tasks are stopped either way; the error describes how they ended.
		c.JSON(http.StatusOK, gin.H{"stopped": stopped, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

func (s *Server) handleAbortAll(c *gin.Context) {
	aborted := s.tasks.AbortAll()
	if aborted == nil {
		aborted = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"aborted": aborted})
}

func (s *Server) handleAbortTask(c *gin.Context) {
	id := c.Param("id")
	if err := s.tasks.Abort(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"aborted": []string{id}})
}

// statusFor maps supervisor errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrTaskExists), errors.Is(err, supervisor.ErrStopInProgress):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrTaskNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
