package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poolify/poolify/internal/service"
	logger "github.com/poolify/poolify/middleware/log"
)

type PoolHandler struct {
	poolService  service.IPoolService
	queryService service.IQueryService
	logger       *logger.Logger
}

func NewPoolHandler(poolService service.IPoolService, queryService service.IQueryService, log *logger.Logger) *PoolHandler {
	return &PoolHandler{
		poolService:  poolService,
		queryService: queryService,
		logger:       log.Named("pool-handler"),
	}
}

// CreatePool opens a pool with the caller as creator and first member.
func (h *PoolHandler) CreatePool(c *gin.Context) {
	var req service.CreatePoolRequest
	if !bindJSON(c, &req) {
		return
	}

	pool, err := h.poolService.CreatePool(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusOK, pool, gin.H{"poolId": pool.ID})
}

// ListPools returns active pools, filtered by ?q= and ?platform= when given.
func (h *PoolHandler) ListPools(c *gin.Context) {
	pools, err := h.queryService.Search(c.Request.Context(), c.Query("q"), c.Query("platform"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusOK, pools, gin.H{"count": len(pools)})
}

// Nearby accepts coordinates but does not filter by distance. An empty body
// is allowed.
func (h *PoolHandler) Nearby(c *gin.Context) {
	var q service.NearbyQuery
	if err := c.ShouldBindJSON(&q); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	pools, err := h.queryService.Nearby(c.Request.Context(), q)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusOK, pools, gin.H{"count": len(pools)})
}

// GetPool returns the pool, its members and the first chat page.
func (h *PoolHandler) GetPool(c *gin.Context) {
	view, err := h.queryService.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ok(c, http.StatusOK, view, nil)
}

func (h *PoolHandler) JoinPool(c *gin.Context) {
	if err := h.poolService.JoinPool(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	h.mutated(c, "Joined pool")
}

func (h *PoolHandler) LeavePool(c *gin.Context) {
	if err := h.poolService.LeavePool(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	h.mutated(c, "Left pool")
}

func (h *PoolHandler) CompletePool(c *gin.Context) {
	if err := h.poolService.CompletePool(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	h.mutated(c, "Pool completed")
}

// mutated answers a membership change with the pool's current state.
func (h *PoolHandler) mutated(c *gin.Context, message string) {
	detail, err := h.poolService.GetPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		// the mutation itself succeeded
		c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
		return
	}
	ok(c, http.StatusOK, detail, gin.H{"message": message})
}
