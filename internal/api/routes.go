package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mcbridge-project/mcbridge/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "mcbridge",
	})
}

// handleStatus reports the bridge, the game server and the host.
func (s *Server) handleStatus(c *gin.Context) {
	bridgeCfg := s.cfg.GetBridge()

	resp := gin.H{
		"name":              bridgeCfg.Name,
		"bot_uri":           bridgeCfg.URI,
		"bot_connected":     s.bot.Connected(),
		"rcon_running":      s.game.RconRunning(),
		"sync_all_messages": s.cfg.SyncAll(),
		"system":            util.GetSystemInfo(),
	}
	if usage, err := util.GetHostUsage(); err == nil {
		resp["host_usage"] = usage
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePlayers(c *gin.Context) {
	players, err := s.game.PlayerList(c.Request.Context())
	resp := gin.H{"players": players, "count": len(players)}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOccupation(c *gin.Context) {
	occ, ok := s.game.Occupation(c.Request.Context())
	if !ok {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"running": true,
		"cpu":     occ.CPU,
		"ram":     occ.RAM,
	})
}

type sendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// handleSendMessage relays a chat message to the bot.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	if !s.bot.SendChatMessage(c.Request.Context(), req.Message) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"delivered": false,
			"error":     "bot unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}
