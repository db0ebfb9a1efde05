package rest_api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
)

type createApprovalRequest struct {
	LoopID      string `json:"loop_id" binding:"required"`
	CandidateID string `json:"candidate_id"`
	PortalKind  string `json:"portal_kind" binding:"required"`
	Decision    string `json:"decision" binding:"required"`
	Rationale   string `json:"rationale"`
}

// CreateApproval records a portal decision. Approvals carry human
// accountability, so only HUMAN actors may record them.
func (a *API) CreateApproval(c *gin.Context) {
	actor := actorFrom(c)
	if actor.Kind != sr.ActorHuman {
		writeForbidden(c, "approvals require a HUMAN actor")
		return
	}
	var req createApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	if req.Decision != "APPROVED" && req.Decision != "REJECTED" {
		writeBadRequest(c, fmt.Errorf("decision must be APPROVED or REJECTED, got %q", req.Decision))
		return
	}
	if _, err := a.Reads.GetLoop(c.Request.Context(), req.LoopID); err != nil {
		writeError(c, err)
		return
	}

	approvalID := sr.NewApprovalID()
	e, err := sr.NewEvent(approvalID, 1, sr.EventApprovalRecorded, actor, sr.ApprovalRecordedPayload{
		ApprovalID:  approvalID,
		LoopID:      req.LoopID,
		CandidateID: req.CandidateID,
		PortalKind:  req.PortalKind,
		Decision:    req.Decision,
		Rationale:   req.Rationale,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	e.Refs = []sr.TypedRef{{Kind: sr.RefKindLoop, ID: req.LoopID, Rel: "governs"}}
	if req.CandidateID != "" {
		e.Refs = append(e.Refs, sr.TypedRef{Kind: sr.RefKindCandidate, ID: req.CandidateID, Rel: "approves"})
	}
	if _, err := a.Store.Append(c.Request.Context(), approvalID, 0, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"approval_id": approvalID,
		"loop_id":     req.LoopID,
		"decision":    req.Decision,
	})
}

func (a *API) GetApproval(c *gin.Context) {
	// Approvals are read through the loop listing; the id lookup scans the
	// approval's own stream to find its loop.
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

func (a *API) ListApprovals(c *gin.Context) {
	approvals, err := a.Reads.ListApprovals(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

func (a *API) ListPortalApprovals(c *gin.Context) {
	approvals, err := a.Reads.ListApprovalsByPortal(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}
