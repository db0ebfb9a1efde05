package rest_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
)

type createDecisionRequest struct {
	LoopID  string          `json:"loop_id" binding:"required"`
	Kind    string          `json:"kind" binding:"required"`
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload"`
	// Resume additionally transitions a paused loop back to ACTIVE, resolving
	// its open stop triggers.
	Resume bool `json:"resume"`
}

// CreateDecision records a governance decision. With resume set, the paused
// loop is resumed in the same request; the resume event is caused by the
// decision so the trail stays connected.
func (a *API) CreateDecision(c *gin.Context) {
	var req createDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	actor := actorFrom(c)

	loopState, loopVersion, ok := a.loopStream(c, req.LoopID)
	if !ok {
		return
	}
	if req.Resume {
		// Validate before recording anything so a rejected resume leaves no
		// half-applied decision behind.
		if _, err := sr.NextLoopState(loopState, sr.TransitionResume); err != nil {
			writeError(c, err)
			return
		}
	}

	decisionID := sr.NewDecisionID()
	decisionEvent, err := sr.NewEvent(decisionID, 1, sr.EventDecisionRecorded, actor,
		sr.DecisionRecordedPayload{
			DecisionID: decisionID,
			LoopID:     req.LoopID,
			Kind:       req.Kind,
			Subject:    req.Subject,
			Payload:    req.Payload,
			Resume:     req.Resume,
		})
	if err != nil {
		writeError(c, err)
		return
	}
	decisionEvent.Refs = []sr.TypedRef{{Kind: sr.RefKindLoop, ID: req.LoopID, Rel: "governs"}}
	if _, err := a.Store.Append(c.Request.Context(), decisionID, 0, []sr.EventEnvelope{decisionEvent}); err != nil {
		writeError(c, err)
		return
	}

	response := gin.H{"decision_id": decisionID, "loop_id": req.LoopID}
	if req.Resume {
		resumeEvent, err := sr.NewEvent(req.LoopID, loopVersion+1, sr.EventLoopResumed, actor,
			sr.LoopTransitionPayload{Reason: "decision " + decisionID})
		if err != nil {
			writeError(c, err)
			return
		}
		resumeEvent.CausationID = decisionEvent.EventID
		if _, err := a.Store.Append(c.Request.Context(), req.LoopID, loopVersion, []sr.EventEnvelope{resumeEvent}); err != nil {
			writeError(c, err)
			return
		}
		response["loop_state"] = sr.LoopActive
	}
	c.JSON(http.StatusCreated, response)
}

func (a *API) GetDecision(c *gin.Context) {
	events, err := a.Store.ReadStream(c.Request.Context(), c.Param("id"), 0, 1)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(events) == 0 {
		writeError(c, sr.NotFoundError(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, events[0])
}

// ListDecisions lists the decisions recorded against a loop (?loop_id=).
func (a *API) ListDecisions(c *gin.Context) {
	loopID := c.Query("loop_id")
	if loopID == "" {
		writeBadRequest(c, fmt.Errorf("loop_id query parameter required"))
		return
	}
	decisions, err := a.Reads.ListDecisions(c.Request.Context(), loopID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}
