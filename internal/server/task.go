package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldops/internal/task/domain"
)

func (s *Server) ListTasks(c *gin.Context) {
	var req domain.ListTasksRequest
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	req.Status = domain.Status(c.Query("status"))
	techID, err := parseOptionalSnowflakeID(c.Query("assigned_tech_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	req.AssignedTechID = techID

	resp, err := s.taskSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Tasks, "page_info": resp.PageInfo})
}

func (s *Server) CreateTask(c *gin.Context) {
	var req domain.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	task, err := s.taskSvc.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": task})
}

func (s *Server) GetTask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	task, detail, err := s.taskSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": task, "detail": detail})
}

func (s *Server) UpdateTask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	task, err := s.taskSvc.Update(c.Request.Context(), actorFrom(c), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": task})
}

func (s *Server) DeleteTask(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.taskSvc.Delete(c.Request.Context(), actorFrom(c), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RestoreTask(c *gin.Context) {
	s.taskAction(c, func(c *gin.Context, id snowflake.ID) (*domain.Task, error) {
		return s.taskSvc.Restore(c.Request.Context(), actorFrom(c), id)
	})
}

type assignTaskRequest struct {
	TechnicianID string `json:"technician_id"`
}

func (s *Server) AssignTask(c *gin.Context) {
	var req assignTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	techID, err := parseSnowflakeID(req.TechnicianID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.taskAction(c, func(c *gin.Context, id snowflake.ID) (*domain.Task, error) {
		return s.taskSvc.Assign(c.Request.Context(), actorFrom(c), id, techID)
	})
}

func (s *Server) StartTask(c *gin.Context) {
	var req domain.StartRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s.taskAction(c, func(c *gin.Context, id snowflake.ID) (*domain.Task, error) {
		return s.taskSvc.Start(c.Request.Context(), actorFrom(c), id, req)
	})
}

func (s *Server) PauseTask(c *gin.Context) {
	var req domain.PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	s.taskAction(c, func(c *gin.Context, id snowflake.ID) (*domain.Task, error) {
		return s.taskSvc.Pause(c.Request.Context(), actorFrom(c), id, req)
	})
}

func (s *Server) CompleteTask(c *gin.Context) {
	var req domain.CompleteRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s.taskAction(c, func(c *gin.Context, id snowflake.ID) (*domain.Task, error) {
		return s.taskSvc.Complete(c.Request.Context(), actorFrom(c), id, req)
	})
}

func (s *Server) ApproveTask(c *gin.Context) {
	s.taskAction(c, func(c *gin.Context, id snowflake.ID) (*domain.Task, error) {
		return s.taskSvc.Approve(c.Request.Context(), actorFrom(c), id)
	})
}

type returnTaskRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ReturnTask(c *gin.Context) {
	var req returnTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequest(err))
		return
	}
	s.taskAction(c, func(c *gin.Context, id snowflake.ID) (*domain.Task, error) {
		return s.taskSvc.ReturnForFix(c.Request.Context(), actorFrom(c), id, req.Reason)
	})
}

func (s *Server) CancelTask(c *gin.Context) {
	s.taskAction(c, func(c *gin.Context, id snowflake.ID) (*domain.Task, error) {
		return s.taskSvc.Cancel(c.Request.Context(), actorFrom(c), id)
	})
}

func (s *Server) taskAction(c *gin.Context, fn func(c *gin.Context, id snowflake.ID) (*domain.Task, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	task, err := fn(c, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": task})
}
