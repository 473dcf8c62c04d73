package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omnode/omnode/internal/peer"
)

// PeerStatus exposes the Peer Table's snapshot over /status/peers.
type PeerStatus struct {
	table *peer.Table
}

// NewPeerStatus constructs a PeerStatus handler.
func NewPeerStatus(table *peer.Table) *PeerStatus {
	return &PeerStatus{table: table}
}

func (s *PeerStatus) Register(group *gin.RouterGroup) {
	group.GET("", s.listRoute)
}

type peerView struct {
	Key     string  `json:"key"`
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	AgeSecs float64 `json:"age_seconds"`
}

func (s *PeerStatus) listRoute(c *gin.Context) {
	now := time.Now()
	snap := s.table.Snapshot()
	views := make([]peerView, 0, len(snap))
	for _, p := range snap {
		views = append(views, peerView{
			Key:     p.Key,
			Host:    p.Host,
			Port:    p.Port,
			AgeSecs: now.Sub(p.LastHeard).Seconds(),
		})
	}
	c.JSON(http.StatusOK, views)
}

var _ Handler = &PeerStatus{}
