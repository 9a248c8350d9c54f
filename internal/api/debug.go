package api

import (
	"net/http"
	"time"

	"orderhub/internal/buildinfo"
)

// DebugJSON reports build info and the effective (secret-free) settings.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":            cfg.Server.Port,
			"allowOrigins":    cfg.Server.AllowOrigins,
			"storeDriver":     cfg.Store.Driver,
			"sinkDriver":      cfg.Sink.Driver,
			"sinkMaxAttempts": cfg.Sink.MaxAttempts,
			"mailboxSize":     cfg.Sync.MailboxSize,
			"cleanupInterval": cfg.Sync.CleanupInterval.String(),
			"maxOrderAge":     cfg.Sync.MaxOrderAge.String(),
			"platforms":       cfg.EnabledPlatforms(),
			"hasRedisURL":     cfg.Store.RedisURL != "" || cfg.Sink.RedisURL != "",
			"hasDatabaseURL":  cfg.Store.DatabaseURL != "",
		},
		"restaurants": s.Hub.Restaurants(),
	}
	writeJSON(w, http.StatusOK, info)
}
