package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sf7293/task-assigner/internal/domain"
	"github.com/sf7293/task-assigner/internal/errval"
	"github.com/sf7293/task-assigner/internal/rules"
	"github.com/sf7293/task-assigner/internal/server"
)

var postgresIsReady bool

type routerDeps struct {
	logic          *server.ServerLogic
	evaluator      *rules.Evaluator
	storage        domain.Storage
	queue          domain.Queue
	requestTimeout time.Duration
}

func setupHTTPServer(deps routerDeps) *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_priority", validatePriority)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_priority")
		}

		err = v.RegisterValidation("validate_status", validateStatus)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_status")
		}

		err = v.RegisterValidation("validate_rules", validateRules(deps.evaluator))
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_rules")
		}
	}

	if deps.requestTimeout > 0 {
		r.Use(requestTimeout(deps.requestTimeout))
	}

	serverLogic := deps.logic
	tasks := r.Group("/tasks")
	tasks.POST("", func(c *gin.Context) {
		req := domain.RouterRequestAddTask{}
		// Request binding and validation
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		task, result, err := serverLogic.AddTask(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"task": task, "dispatch": result})
	})

	tasks.POST("/bulk-recompute", func(c *gin.Context) {
		req := domain.RouterRequestBulkRecompute{}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
				slog.Error("error occurred while binding request", "error", err)
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		result, err := serverLogic.BulkRecompute(c.Request.Context(), req.TaskIDs)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"dispatch": result})
	})

	tasks.GET("/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		task, err := serverLogic.GetTask(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"task": task})
	})

	tasks.PATCH("/:id/rules", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		req := domain.RouterRequestUpdateRules{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		task, result, err := serverLogic.UpdateRules(c.Request.Context(), id, req.AssignmentRules)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"task": task, "dispatch": result})
	})

	tasks.PATCH("/:id/status", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		req := domain.RouterRequestUpdateStatus{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		task, err := serverLogic.UpdateStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"task": task})
	})

	tasks.DELETE("/:id", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		if err := serverLogic.DeleteTask(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	})

	tasks.POST("/:id/assign", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		task, err := serverLogic.AssignNow(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"task": task})
	})

	tasks.GET("/:id/eligible-users", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		eligible, err := serverLogic.EligibleCandidates(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"task_id": id, "eligible_users": eligible})
	})

	tasks.GET("/:id/history", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		history, err := serverLogic.TaskHistory(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"history": history})
	})

	users := r.Group("/users")
	users.GET("/:id/tasks", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		pending, err := serverLogic.PendingTasks(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"user_id": id, "tasks": pending})
	})

	users.PATCH("/:id/profile", func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		req := domain.RouterRequestUpdateProfile{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, result, err := serverLogic.UpdateProfile(c.Request.Context(), id, req)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user, "dispatch": result})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		// Checking health of depending upon infra connections
		err := deps.storage.Ping(c.Request.Context())
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		// Without a broker the API still works, running assignment work inline
		if deps.queue == nil || !deps.queue.IsHealthy() {
			slog.Warn("Rabbit is not healthy, serving in synchronous mode")
			c.JSON(http.StatusOK, gin.H{"status": "degraded"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	return r
}

func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func idParam(c *gin.Context) (int32, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil || id <= 0 {
		slog.Error("Invalid id parameter, error occurred while casting id str to int", "id", idStr)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}

	return int32(id), true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{})
	case errors.Is(err, errval.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errval.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errval.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{})
	}
}

var validatePriority validator.Func = func(fl validator.FieldLevel) bool {
	return domain.IsValidPriority(fl.Field().String())
}

var validateStatus validator.Func = func(fl validator.FieldLevel) bool {
	return domain.IsValidStatus(fl.Field().String())
}

// validateRules rejects rule sets the evaluator cannot compile. Unknown rule names are accepted.
func validateRules(evaluator *rules.Evaluator) validator.Func {
	return func(fl validator.FieldLevel) bool {
		assignmentRules, ok := fl.Field().Interface().(domain.AssignmentRules)
		if !ok {
			return false
		}

		if err := evaluator.Validate(assignmentRules); err != nil {
			slog.Info("Rejected assignment rules", "error", err.Error())
			return false
		}

		return true
	}
}
