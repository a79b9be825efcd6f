package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/fieldops/internal/observability/context"
)

const (
	actorHeader     = "X-Actor-ID"
	actorContextKey = "actor_id"
)

// ActorRequired reads the caller id that the upstream authentication layer
// puts in X-Actor-ID.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, err := parseSnowflakeID(c.GetHeader(actorHeader))
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(actorContextKey, actorID)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "user", actorID.String()))
		c.Next()
	}
}

func actorFrom(c *gin.Context) snowflake.ID {
	id, _ := c.Get(actorContextKey)
	actorID, _ := id.(snowflake.ID)
	return actorID
}

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, ErrInvalidID
	}
	return parsed, nil
}

// pathID parses the named path parameter and aborts the request when it is
// not a snowflake id.
func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := parseSnowflakeID(c.Param(name))
	if err != nil {
		AbortWithError(c, err)
		return 0, false
	}
	return id, true
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	id, err := parseSnowflakeID(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseIntQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return v, nil
}

// bindOptionalJSON binds a JSON body when one is present. Mobile clients
// may post without a body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		AbortWithError(c, invalidRequest(err))
		return false
	}
	return true
}
