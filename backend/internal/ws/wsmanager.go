package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// Handler upgrades the request and runs the connection loops. When the auth
// middleware already identified the user (token in header or query), the
// connection starts authenticated; otherwise the client must send an
// authenticate message before anything else.
func (coord *Coordinator) Handler(c *gin.Context) {
	wsc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer wsc.Close()

	conn := newConn(wsc, coord)
	if userID := c.GetUint64("userId"); userID != 0 {
		conn.authenticated = true
		conn.userID = userID
		conn.username = c.GetString("username")
	}
	conn.clientID = c.Query("clientId")

	go conn.writeLoop()
	conn.readLoop(c.Request.Context())
}
