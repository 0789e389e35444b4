package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poolify/poolify/internal/service"
	logger "github.com/poolify/poolify/middleware/log"
)

type UserHandler struct {
	userService  service.IUserService
	statsService service.IStatsService
	queryService service.IQueryService
	logger       *logger.Logger
}

func NewUserHandler(
	userService service.IUserService,
	statsService service.IStatsService,
	queryService service.IQueryService,
	log *logger.Logger,
) *UserHandler {
	return &UserHandler{
		userService:  userService,
		statsService: statsService,
		queryService: queryService,
		logger:       log.Named("user-handler"),
	}
}

func (h *UserHandler) GetProfile(c *gin.Context) {
	profile, err := h.userService.GetProfile(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, profile, nil)
}

// UpdateProfile applies the non-empty fields and returns the new profile.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req service.UpdateProfileRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if err := h.userService.UpdateProfile(ctx, currentUser(c), &req); err != nil {
		fail(c, h.logger, err)
		return
	}
	profile, err := h.userService.GetProfile(ctx, currentUser(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, profile, gin.H{"message": "Profile updated"})
}

func (h *UserHandler) GetStats(c *gin.Context) {
	stats, err := h.statsService.GetStats(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, stats, nil)
}

// GetPools lists the caller's pools; ?scope=joined (default) or created.
func (h *UserHandler) GetPools(c *gin.Context) {
	scope := service.PoolScope(c.DefaultQuery("scope", string(service.ScopeJoined)))
	pools, err := h.queryService.MyPools(c.Request.Context(), currentUser(c), scope)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, pools, gin.H{"count": len(pools)})
}
