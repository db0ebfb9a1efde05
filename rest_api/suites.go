package rest_api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/oracles"
)

// suiteStreamID maps a suite id onto an ORACLE_SUITE event stream.
func suiteStreamID(suiteID string) string {
	if strings.HasPrefix(suiteID, "suite_") {
		return suiteID
	}
	return "suite_" + suiteID
}

// RegisterSuite validates a suite definition, registers it under its
// canonical hash, and records OracleSuiteRegistered.
func (a *API) RegisterSuite(c *gin.Context) {
	var definition oracles.SuiteDefinition
	if err := c.ShouldBindJSON(&definition); err != nil {
		writeBadRequest(c, err)
		return
	}
	if err := definition.Validate(); err != nil {
		writeBadRequest(c, err)
		return
	}
	suiteHash, err := definition.Hash()
	if err != nil {
		writeError(c, err)
		return
	}
	raw, err := json.Marshal(definition)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := a.Suites.Register(c.Request.Context(), definition.SuiteID, suiteHash, raw); err != nil {
		writeError(c, err)
		return
	}

	streamID := suiteStreamID(definition.SuiteID)
	version, err := a.streamVersion(c, streamID)
	if err != nil && sr.CodeOf(err) != sr.StreamNotFound {
		writeError(c, err)
		return
	}
	e, err := sr.NewEvent(streamID, version+1, sr.EventOracleSuiteRegistered, actorFrom(c),
		sr.OracleSuiteRegisteredPayload{
			SuiteID:    definition.SuiteID,
			SuiteHash:  suiteHash,
			Definition: raw,
		})
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := a.Store.Append(c.Request.Context(), streamID, version, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"suite_id":   definition.SuiteID,
		"suite_hash": suiteHash,
	})
}

func (a *API) GetSuite(c *gin.Context) {
	suite, err := a.Suites.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, suite)
}

func (a *API) ListSuites(c *gin.Context) {
	suites, err := a.Suites.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suites": suites})
}

// PinSuite freezes the suite at its current hash and records
// OracleSuitePinned.
func (a *API) PinSuite(c *gin.Context) {
	suiteID := c.Param("id")
	suite, err := a.Suites.Get(c.Request.Context(), suiteID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := a.Suites.Pin(c.Request.Context(), suiteID); err != nil {
		writeError(c, err)
		return
	}

	streamID := suiteStreamID(suiteID)
	version, err := a.streamVersion(c, streamID)
	if err != nil {
		writeError(c, err)
		return
	}
	e, err := sr.NewEvent(streamID, version+1, sr.EventOracleSuitePinned, actorFrom(c),
		sr.OracleSuitePinnedPayload{SuiteID: suiteID, SuiteHash: suite.SuiteHash})
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := a.Store.Append(c.Request.Context(), streamID, version, []sr.EventEnvelope{e}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"suite_id":   suiteID,
		"suite_hash": suite.SuiteHash,
		"pinned":     true,
	})
}
