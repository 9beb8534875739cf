package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/signals"
	"github.com/gridprobe/gridprobe/internal/stack"
)

// channelSnapshot is the wire shape of one entry in the status snapshot.
type channelSnapshot struct {
	Connected     bool            `json:"connected"`
	State         model.ConnState `json:"state"`
	LocalEndpoint string          `json:"local_endpoint,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snapshot := s.deps.Tracker.Snapshot()
	out := make(map[model.Channel]channelSnapshot, len(snapshot))
	for ch, st := range snapshot {
		out[ch] = channelSnapshot{
			Connected:     st.Connected,
			State:         st.State,
			LocalEndpoint: st.LocalEndpoint,
		}
	}
	c.JSON(http.StatusOK, out)
}

// handleStream is the live push channel: one SSE message per envelope.
// The subscription starts at connect time; clients backfill via the
// history endpoint and dedup on sequence.
func (s *Server) handleStream(c *gin.Context) {
	sub := s.deps.Hub.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				// Dropped for falling behind; the client reconnects and
				// re-fetches snapshot and history.
				return false
			}
			c.SSEvent("message", env)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		// limit <= 0 would disable the delivery cap entirely.
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	all, err := s.deps.History.QueryAll(limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) handleHistoryClear(c *gin.Context) {
	channel := model.Channel(c.Param("channel"))
	if err := s.deps.History.Clear(channel); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "channel": channel})
}

func (s *Server) handleStackStart(channel model.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.deps.Control.Start(channel); err != nil {
			if errors.Is(err, stack.ErrAlreadyRunning) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "starting", "channel": channel})
	}
}

func (s *Server) handleStackStop(channel model.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.deps.Control.Stop(channel); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stopped", "channel": channel})
	}
}

func (s *Server) handleStackStatus(channel model.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := s.deps.Control.StackStatus(channel)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func (s *Server) handleSignalList(c *gin.Context) {
	infos, err := s.deps.Signals.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lists": infos})
}

func (s *Server) handleSignalGet(c *gin.Context) {
	dict, err := s.deps.Signals.Load(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": dict.Signals()})
}

func (s *Server) handleSignalSave(c *gin.Context) {
	var body struct {
		Signals []signals.Signal `json:"signals"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if err := s.deps.Signals.Save(c.Param("name"), body.Signals); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "count": len(body.Signals)})
}

func (s *Server) handleSignalDelete(c *gin.Context) {
	if err := s.deps.Signals.Delete(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
