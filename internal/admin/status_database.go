package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnode/omnode/internal/database"
)

// DatabaseStatus exposes the Local Database's snapshot over
// /status/database.
type DatabaseStatus struct {
	db *database.Database
}

// NewDatabaseStatus constructs a DatabaseStatus handler.
func NewDatabaseStatus(db *database.Database) *DatabaseStatus {
	return &DatabaseStatus{db: db}
}

func (s *DatabaseStatus) Register(group *gin.RouterGroup) {
	group.GET("", s.getRoute)
}

func (s *DatabaseStatus) getRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.db.Snapshot())
}

var _ Handler = &DatabaseStatus{}
