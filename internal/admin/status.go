package admin

import "github.com/gin-gonic/gin"

// Handler is a handler in the node's status API: read-only introspection
// of one subsystem's in-memory state, grounded on the teacher's
// server/status.Handler / AddStatus pattern.
type Handler interface {
	Register(group *gin.RouterGroup)
}
