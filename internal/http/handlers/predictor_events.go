package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neuroscout-backend/internal/http/response"
	"github.com/yungbote/neuroscout-backend/internal/platform/apierr"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type PredictorEventHandler struct {
	events services.PredictorEventService
}

func NewPredictorEventHandler(events services.PredictorEventService) *PredictorEventHandler {
	return &PredictorEventHandler{events: events}
}

// GET /api/predictor-events?predictor_id=..&run_id=..&stimulus_timing=true
func (h *PredictorEventHandler) List(c *gin.Context) {
	predictorIDs, err := queryUUIDs(c, "predictor_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if len(predictorIDs) == 0 {
		response.RespondErr(c, apierr.BadRequest("missing_predictor_id", fmt.Errorf("at least one predictor_id is required")))
		return
	}
	runIDs, err := queryUUIDs(c, "run_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	withStimulus, err := queryBool(c, "stimulus_timing")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	evs, err := h.events.Events(requestDBC(c), predictorIDs, runIDs, withStimulus)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, evs)
}
