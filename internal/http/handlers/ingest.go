package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neuroscout-backend/internal/http/response"
	"github.com/yungbote/neuroscout-backend/internal/modules/ingest"
	"github.com/yungbote/neuroscout-backend/internal/platform/apierr"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

const maxEventsUpload = 32 << 20

type EventIngester interface {
	Ingest(dbc dbctx.Context, runID uuid.UUID, r io.Reader, opts ingest.Options) (*ingest.Result, error)
}

type IngestHandler struct {
	ingester EventIngester
}

func NewIngestHandler(ingester EventIngester) *IngestHandler {
	return &IngestHandler{ingester: ingester}
}

// POST /api/runs/:id/predictors
//
// Accepts a multipart form with the events TSV in "file", or the TSV as the
// raw request body. "columns" (comma separated), "descriptions" (JSON
// object) and "private" may be given as form fields or query parameters.
func (h *IngestHandler) Upload(c *gin.Context) {
	runID, err := pathUUID(c, "id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxEventsUpload)

	var body io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			response.RespondErr(c, apierr.BadRequest("missing_file", err))
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.RespondErr(c, apierr.BadRequest("unreadable_file", err))
			return
		}
		defer f.Close()
		body = f
	}

	opts := ingest.Options{Private: c.PostForm("private") == "true" || c.Query("private") == "true"}
	if cols := formOrQuery(c, "columns"); cols != "" {
		for _, col := range strings.Split(cols, ",") {
			if col = strings.TrimSpace(col); col != "" {
				opts.Columns = append(opts.Columns, col)
			}
		}
	}
	if desc := formOrQuery(c, "descriptions"); desc != "" {
		if err := json.Unmarshal([]byte(desc), &opts.Descriptions); err != nil {
			response.RespondErr(c, apierr.BadRequest("invalid_descriptions", fmt.Errorf("descriptions must be a JSON object: %w", err)))
			return
		}
	}

	res, err := h.ingester.Ingest(requestDBC(c), runID, body, opts)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func formOrQuery(c *gin.Context, key string) string {
	if v := strings.TrimSpace(c.PostForm(key)); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query(key))
}
