package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnode/omnode/internal/consensus"
)

// ConsensusStatus exposes the Consensus Engine's tracked round count
// (in-flight rounds plus resolved rounds not yet garbage-collected) over
// /status/consensus.
type ConsensusStatus struct {
	engine *consensus.Engine
}

// NewConsensusStatus constructs a ConsensusStatus handler.
func NewConsensusStatus(engine *consensus.Engine) *ConsensusStatus {
	return &ConsensusStatus{engine: engine}
}

func (s *ConsensusStatus) Register(group *gin.RouterGroup) {
	group.GET("", s.getRoute)
}

type consensusView struct {
	PendingRounds int `json:"pending_rounds"`
}

func (s *ConsensusStatus) getRoute(c *gin.Context) {
	c.JSON(http.StatusOK, consensusView{PendingRounds: s.engine.PendingRounds()})
}

var _ Handler = &ConsensusStatus{}
