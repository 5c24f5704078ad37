package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neuroscout-backend/internal/platform/apierr"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

func requestDBC(c *gin.Context) dbctx.Context {
	return dbctx.New(c.Request.Context())
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid_"+name, fmt.Errorf("%s must be a uuid", name))
	}
	return id, nil
}

// queryUUIDs accepts both repeated (?run_id=a&run_id=b) and comma separated
// (?run_id=a,b) forms. It returns nil when the parameter is absent.
func queryUUIDs(c *gin.Context, name string) ([]uuid.UUID, error) {
	raw, ok := c.GetQueryArray(name)
	if !ok {
		return nil, nil
	}
	out := []uuid.UUID{}
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return nil, apierr.BadRequest("invalid_"+name, fmt.Errorf("%s %q is not a uuid", name, part))
			}
			out = append(out, id)
		}
	}
	return out, nil
}

func queryBool(c *gin.Context, name string) (bool, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apierr.BadRequest("invalid_"+name, fmt.Errorf("%s must be a boolean", name))
	}
	return b, nil
}
