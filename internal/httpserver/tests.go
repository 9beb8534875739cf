package httpserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gridprobe/gridprobe/internal/model"
)

func (s *Server) handleConfigList(c *gin.Context) {
	configs, err := s.deps.Configs.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

func (s *Server) handleConfigGet(c *gin.Context) {
	cfg, err := s.deps.Configs.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleConfigCreate(c *gin.Context) {
	var cfg model.TestConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	cfg.ID = "" // the store assigns ids
	saved, err := s.deps.Configs.Save(cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleConfigUpdate(c *gin.Context) {
	var cfg model.TestConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	cfg.ID = c.Param("id")
	saved, err := s.deps.Configs.Save(cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleConfigDelete(c *gin.Context) {
	if err := s.deps.Configs.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleRunStart(c *gin.Context) {
	var body struct {
		ConfigID string `json:"config_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ConfigID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "config_id is required"})
		return
	}
	run, err := s.deps.Engine.Start(s.ctx, body.ConfigID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// handleRunStatus returns the current or most recent run. Before the
// first run of this process lifetime the body is a JSON null.
func (s *Server) handleRunStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) handleRunAbort(c *gin.Context) {
	run := s.deps.Engine.Abort()
	if run.RunID == "" {
		c.JSON(http.StatusOK, gin.H{"status": "idle"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleProtocolList(c *gin.Context) {
	protocols, err := s.deps.Protocols.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"protocols": protocols})
}

func (s *Server) handleProtocolGet(c *gin.Context) {
	p, err := s.deps.Protocols.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleProtocolStepLog(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step index"})
		return
	}
	log, err := s.deps.Protocols.StepLog(c.Param("id"), index)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index, "log": log})
}

func (s *Server) handleProtocolDelete(c *gin.Context) {
	if err := s.deps.Protocols.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
