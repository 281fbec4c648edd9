package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/KafClaw/wsagent/internal/store"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

var errNoStore = errors.New("no workspace store bound to the call")

var taskStatuses = []string{store.TaskStatusTodo, store.TaskStatusInProgress, store.TaskStatusDone}

func validStatus(s string) bool {
	for _, v := range taskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// commitTask writes one board event on behalf of the calling conversation.
func commitTask(ctx context.Context, call CallContext, typ store.EventType, p store.TaskPayload) error {
	if call.Store == nil {
		return errNoStore
	}
	e, err := store.NewEvent(call.StoreID, call.ConversationID, typ, p)
	if err != nil {
		return err
	}
	e.TraceID = call.TraceID
	if err := call.Store.Commit(ctx, e); err != nil {
		return fmt.Errorf("commit %s: %w", typ, err)
	}
	return nil
}

// CreateTaskTool handles create_task.
type CreateTaskTool struct{}

// NewCreateTaskTool creates a CreateTaskTool.
func NewCreateTaskTool() *CreateTaskTool { return &CreateTaskTool{} }

// Definition returns the tool definition for create_task.
func (t *CreateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("create_task",
		mcp.WithDescription("Create a task on the workspace board."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short task title"),
		),
		mcp.WithString("description",
			mcp.Description("Longer description of the work"),
		),
		mcp.WithString("status",
			mcp.Description("Initial status (default: todo)"),
			mcp.Enum(taskStatuses...),
		),
		mcp.WithString("assignee",
			mcp.Description("Who should pick the task up"),
		),
	)
}

// Handle processes a create_task call.
func (t *CreateTaskTool) Handle(ctx context.Context, call CallContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}
	status := req.GetString("status", store.TaskStatusTodo)
	if !validStatus(status) {
		return mcp.NewToolResultErrorf("invalid status %q", status), nil
	}

	p := store.TaskPayload{
		TaskID:      uuid.NewString(),
		Title:       title,
		Description: req.GetString("description", ""),
		Status:      status,
		Assignee:    req.GetString("assignee", ""),
	}
	if err := commitTask(ctx, call, store.EventTaskCreated, p); err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"taskId": p.TaskID, "title": p.Title, "status": p.Status})
}

// UpdateTaskTool handles update_task.
type UpdateTaskTool struct{}

// NewUpdateTaskTool creates an UpdateTaskTool.
func NewUpdateTaskTool() *UpdateTaskTool { return &UpdateTaskTool{} }

// Definition returns the tool definition for update_task.
func (t *UpdateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription("Change the title, description, status or assignee of an existing board task. Omitted fields are left unchanged."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to update"),
		),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status",
			mcp.Description("New status"),
			mcp.Enum(taskStatuses...),
		),
		mcp.WithString("assignee", mcp.Description("New assignee")),
	)
}

// Handle processes an update_task call.
func (t *UpdateTaskTool) Handle(ctx context.Context, call CallContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("task_id", "")
	if id == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	if call.Store == nil {
		return nil, errNoStore
	}
	board, err := call.Store.Board(ctx)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	if _, ok := board.Task(id); !ok {
		return mcp.NewToolResultErrorf("task %s not found", id), nil
	}

	p := store.TaskPayload{
		TaskID:      id,
		Title:       req.GetString("title", ""),
		Description: req.GetString("description", ""),
		Status:      req.GetString("status", ""),
		Assignee:    req.GetString("assignee", ""),
	}
	if p.Status != "" && !validStatus(p.Status) {
		return mcp.NewToolResultErrorf("invalid status %q", p.Status), nil
	}
	if p.Title == "" && p.Description == "" && p.Status == "" && p.Assignee == "" {
		return mcp.NewToolResultError("nothing to update"), nil
	}
	if err := commitTask(ctx, call, store.EventTaskUpdated, p); err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"taskId": id, "updated": true})
}

// GetBoardTool handles get_board.
type GetBoardTool struct{}

// NewGetBoardTool creates a GetBoardTool.
func NewGetBoardTool() *GetBoardTool { return &GetBoardTool{} }

// Definition returns the tool definition for get_board.
func (t *GetBoardTool) Definition() mcp.Tool {
	return mcp.NewTool("get_board",
		mcp.WithDescription("List the tasks on the workspace board, optionally filtered by status."),
		mcp.WithString("status",
			mcp.Description("Only return tasks with this status"),
			mcp.Enum(taskStatuses...),
		),
	)
}

// Handle processes a get_board call.
func (t *GetBoardTool) Handle(ctx context.Context, call CallContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if call.Store == nil {
		return nil, errNoStore
	}
	board, err := call.Store.Board(ctx)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	status := req.GetString("status", "")
	tasks := make([]store.Task, 0, len(board.Tasks))
	for _, task := range board.Tasks {
		if status == "" || task.Status == status {
			tasks = append(tasks, task)
		}
	}
	return jsonResult(map[string]any{"tasks": tasks, "count": len(tasks)})
}

// RegisterBoardTools adds the board tools to r.
func RegisterBoardTools(r *Registry) {
	r.Register(NewCreateTaskTool())
	r.Register(NewUpdateTaskTool())
	r.Register(NewGetBoardTool())
}
