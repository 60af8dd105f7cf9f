package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skalaliya/agent.algorythmos/internal/app"
	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

type WorkflowHandler struct {
	workflowService app.WorkflowService
}

// WorkflowRequest carries a definition plus optional overrides of its name,
// schedule and timezone.
type WorkflowRequest struct {
	Name       string            `json:"name"`
	Schedule   *string           `json:"schedule"`
	Timezone   *string           `json:"timezone"`
	Definition domain.Definition `json:"definition"`
}

func NewWorkflowHandler(workflowService app.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflowService: workflowService}
}

func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	wf, err := bindWorkflow(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.workflowService.CreateWorkflow(c, wf); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, wf)
}

func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	wf, err := h.workflowService.GetWorkflow(c, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, wf)
}

func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	workflows, err := h.workflowService.ListWorkflows(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if workflows == nil {
		workflows = []*domain.Workflow{}
	}

	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

func (h *WorkflowHandler) UpdateWorkflow(c *gin.Context) {
	wf, err := bindWorkflow(c)
	if err != nil {
		writeError(c, err)
		return
	}
	wf.ID = c.Param("id")

	if err := h.workflowService.UpdateWorkflow(c, wf); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, wf)
}

func (h *WorkflowHandler) DeleteWorkflow(c *gin.Context) {
	if err := h.workflowService.DeleteWorkflow(c, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Workflow deleted"})
}

func (h *WorkflowHandler) NextRun(c *gin.Context) {
	next, err := h.workflowService.NextRun(c, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{"workflowId": c.Param("id"), "nextRun": nil}
	if !next.IsZero() {
		body["nextRun"] = next
	}
	c.JSON(http.StatusOK, body)
}

// bindWorkflow accepts either a WorkflowRequest as JSON or a bare YAML
// definition document.
func bindWorkflow(c *gin.Context) (*domain.Workflow, error) {
	if strings.Contains(c.ContentType(), "yaml") {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, domain.Validation("failed to read body: %v", err)
		}
		def, err := domain.ParseDefinition(data, "yaml")
		if err != nil {
			return nil, err
		}
		return domain.NewWorkflow(def), nil
	}

	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, domain.Validation("invalid request body: %v", err)
	}
	wf := domain.NewWorkflow(req.Definition)
	if req.Name != "" {
		wf.Name = req.Name
	}
	if req.Schedule != nil {
		wf.Schedule = *req.Schedule
	}
	if req.Timezone != nil {
		wf.Timezone = *req.Timezone
	}
	return wf, nil
}

type RunHandler struct {
	runService app.RunService
}

func NewRunHandler(runService app.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

func (h *RunHandler) StartRun(c *gin.Context) {
	run, err := h.runService.Start(c, c.Param("id"), domain.StartedByUser)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, run)
}

// ListRuns lists the runs of workflow :id, or of every workflow when the
// route has no id.
func (h *RunHandler) ListRuns(c *gin.Context) {
	runs, err := h.runService.ListRuns(c, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.runService.GetRun(c, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *RunHandler) RetryRun(c *gin.Context) {
	run, err := h.runService.Retry(c, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, run)
}

func (h *RunHandler) CancelRun(c *gin.Context) {
	run, err := h.runService.Cancel(c, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func writeError(c *gin.Context, err error) {
	fault, ok := domain.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch fault.Code {
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeInvalidTransition:
		status = http.StatusConflict
	case domain.CodeExternalService:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": fault.Message, "code": fault.Code})
}
