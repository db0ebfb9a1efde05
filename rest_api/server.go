// Package rest_api is the sr-api HTTP surface: loops, iterations, candidates,
// runs, evidence, approvals, decisions and oracle suites over gin, with OIDC
// bearer auth. Handlers append to the event log and read from projections;
// they hold no state of their own.
package rest_api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/governor"
)

// Version reported by /api/v1/info.
const Version = "0.3.0"

// API bundles the ports the handlers work against.
type API struct {
	Store    sr.EventStore
	Reads    sr.Projections
	Evidence sr.EvidenceStore
	Suites   sr.SuiteRegistry
	Bus      sr.MessageBus
	Governor *governor.Governor
	Clock    sr.Clock
}

func (a *API) now() time.Time {
	if a.Clock != nil {
		return a.Clock.Now()
	}
	return time.Now().UTC()
}

// NewRouter builds the gin engine with all routes registered. The identity
// provider decides who may call the authenticated group.
func NewRouter(api *API, provider sr.IdentityProvider) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/v1/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "sr-api",
			"version": Version,
		})
	})

	v1 := router.Group("/api/v1", Authenticated(provider))
	{
		v1.POST("/loops", api.CreateLoop)
		v1.GET("/loops", api.ListLoops)
		v1.GET("/loops/:id", api.GetLoop)
		v1.POST("/loops/:id/activate", api.transitionLoop(sr.TransitionActivate))
		v1.POST("/loops/:id/pause", api.transitionLoop(sr.TransitionStop))
		v1.POST("/loops/:id/resume", api.transitionLoop(sr.TransitionResume))
		v1.POST("/loops/:id/close", api.transitionLoop(sr.TransitionClose))
		v1.POST("/loops/:id/start", api.StartIteration)
		v1.GET("/loops/:id/iterations", api.ListIterations)
		v1.GET("/loops/:id/approvals", api.ListApprovals)
		v1.GET("/loops/:id/stop-triggers", api.ListStopTriggers)
		v1.GET("/loops/:id/governor-decisions", api.ListGovernorDecisions)

		v1.POST("/iterations", api.RecordIterationStarted)
		v1.GET("/iterations/:id", api.GetIteration)
		v1.GET("/iterations/:id/candidates", api.ListCandidates)
		v1.POST("/iterations/:id/complete", api.CompleteIteration)

		v1.POST("/candidates", api.CreateCandidate)
		v1.GET("/candidates/:id", api.GetCandidate)
		v1.GET("/candidates/:id/runs", api.ListRuns)

		v1.POST("/runs", api.CreateRun)
		v1.GET("/runs/:id", api.GetRun)
		v1.POST("/runs/:id/complete", api.CompleteRun)
		v1.GET("/runs/:id/evidence", api.GetRunEvidence)

		v1.POST("/evidence", api.StoreEvidence)
		v1.GET("/evidence/:hash", api.GetEvidence)
		v1.GET("/evidence/:hash/verify", api.VerifyEvidence)

		v1.POST("/approvals", api.CreateApproval)
		v1.GET("/approvals/:id", api.GetApproval)
		v1.GET("/portals/:id/approvals", api.ListPortalApprovals)

		v1.POST("/decisions", api.CreateDecision)
		v1.GET("/decisions", api.ListDecisions)
		v1.GET("/decisions/:id", api.GetDecision)

		v1.POST("/oracle-suites", api.RegisterSuite)
		v1.GET("/oracle-suites", api.ListSuites)
		v1.GET("/oracle-suites/:id", api.GetSuite)
		v1.POST("/oracle-suites/:id/pin", api.PinSuite)
	}

	return router
}

// streamPageSize bounds each ReadStream call when walking a full stream.
// The store clamps a zero limit to its own default, so version reads must
// page explicitly or long streams get silently truncated.
const streamPageSize = 500

// foldStream pages through a stream from the beginning, calling fn for each
// event, and returns the stream's current version (the last event's sequence).
func (a *API) foldStream(c *gin.Context, streamID string, fn func(e sr.EventEnvelope)) (uint64, error) {
	var version uint64
	for {
		events, err := a.Store.ReadStream(c.Request.Context(), streamID, version, streamPageSize)
		if err != nil {
			return 0, err
		}
		for _, e := range events {
			if fn != nil {
				fn(e)
			}
			version = e.StreamSeq
		}
		if len(events) < streamPageSize {
			return version, nil
		}
	}
}

// loopStream folds a loop's own events to get its authoritative state and
// version, independent of projection lag.
func (a *API) loopStream(c *gin.Context, loopID string) (sr.LoopState, uint64, bool) {
	state := sr.LoopState("")
	version, err := a.foldStream(c, loopID, func(e sr.EventEnvelope) {
		switch e.EventType {
		case sr.EventLoopCreated:
			state = sr.LoopCreated
		case sr.EventLoopActivated, sr.EventLoopResumed:
			state = sr.LoopActive
		case sr.EventLoopPaused:
			state = sr.LoopPaused
		case sr.EventLoopClosed:
			state = sr.LoopClosed
		}
	})
	if err != nil {
		writeError(c, err)
		return "", 0, false
	}
	return state, version, true
}

// streamVersion returns the current version of any stream, zero when absent.
func (a *API) streamVersion(c *gin.Context, streamID string) (uint64, error) {
	return a.foldStream(c, streamID, nil)
}
