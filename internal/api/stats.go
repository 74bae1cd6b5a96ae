package api

import "net/http"

// handleStats aggregates counters from across the core.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"entities": s.entities.Count(),
	}

	if s.engine != nil {
		payload["engine"] = s.engine.Stats()
	}
	if s.dispatcher != nil {
		payload["dispatcher"] = s.dispatcher.Stats()
	}
	if s.events != nil {
		payload["bus"] = map[string]any{
			"subscribers":    s.events.SubscriberCount(),
			"dropped_events": s.events.TotalDropped(),
		}
	}
	if s.hub != nil {
		payload["websocket_clients"] = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, payload)
}
