package adminapi

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/sonorad/pkg/core"
)

// eventMessage is the wire shape pushed to each connected websocket
// client, one JSON object per core.Event.
type eventMessage struct {
	Kind     string `json:"kind"`
	Facility string `json:"facility"`
	Index    uint32 `json:"index"`
}

func kindName(k core.EventKind) string {
	switch k {
	case core.EventNew:
		return "new"
	case core.EventChange:
		return "change"
	case core.EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

func facilityName(f core.EventFacility) string {
	switch f {
	case core.FacilitySink:
		return "sink"
	case core.FacilitySource:
		return "source"
	case core.FacilitySinkInput:
		return "sink-input"
	case core.FacilitySourceOutput:
		return "source-output"
	case core.FacilityClient:
		return "client"
	case core.FacilityCard:
		return "card"
	case core.FacilityModule:
		return "module"
	default:
		return "unknown"
	}
}

// streamEvents upgrades to a websocket and subscribes to every future
// core.Event for the lifetime of the connection, matching spec.md's
// native-protocol SUBSCRIBE semantics but over websocket JSON instead
// of the native tag-struct wire format.
func (s *Server) streamEvents(c *gin.Context) {
	conn, err := s.up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("adminapi: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := make(chan core.Event, 64)
	s.core.Subscribe(func(ev core.Event) {
		select {
		case events <- ev:
		default:
			// slow consumer: drop rather than block the core's notify path.
		}
	})

	conn.SetReadDeadline(time.Now().Add(time.Hour))
	go func() {
		// Drain and discard client frames so pong/close control frames
		// are still processed by gorilla's read loop; this connection
		// is one-way (server -> client) otherwise.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range events {
		msg := eventMessage{
			Kind:     kindName(ev.Kind),
			Facility: facilityName(ev.Facility),
			Index:    ev.Index,
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}
