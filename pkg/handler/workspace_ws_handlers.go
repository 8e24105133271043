package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/turboalan/collab/pkg/utils"
)

// Close codes sent when a connection is rejected after the upgrade.
const (
	closeWorkspaceNotFound = 4004
	closeNotAuthorized     = 4003
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket is the real-time endpoint for a workspace.
//
// Message types (client -> server):
//   - {"type": "typing", "data": {"is_typing": true/false}}
//   - {"type": "ping"}
//   - {"type": "request_presence"}
//
// Message types (server -> client) use the standard frame envelope with type
// connected, message, typing, presence, document_update, pong, presence_info,
// direct or heartbeat.
//
// Access is checked after the upgrade so the client receives a close code it
// can distinguish: 4004 for a missing workspace, 4003 for a non-participant.
func (h *WorkspaceHandler) WebSocket(c *gin.Context) {
	workspaceID := c.Param("id")
	uid := c.Query("user_id")
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	w, found := h.manager.GetWorkspace(c.Request.Context(), workspaceID)
	if !found {
		closeWith(conn, closeWorkspaceNotFound, "Workspace not found")
		return
	}
	if !w.IsParticipant(uid) {
		closeWith(conn, closeNotAuthorized, "Not authorized")
		return
	}

	presence := h.chat.Connect(workspaceID, uid, conn)
	defer h.chat.Disconnect(presence)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Warn("websocket read failed", "workspace_id", workspaceID, "user_id", uid, "error", err)
			}
			return
		}
		h.chat.HandleClientMessage(workspaceID, uid, data)
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}
