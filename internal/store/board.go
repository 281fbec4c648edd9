package store

import (
	"sort"
	"time"
)

// Task statuses understood by the board.
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

// Task is the projected state of one board card.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Assignee    string    `json:"assignee,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Board is the projection of all board events in a workspace.
type Board struct {
	StoreID string `json:"storeId"`
	Tasks   []Task `json:"tasks"`
}

// Task returns the task with the given id.
func (b *Board) Task(id string) (Task, bool) {
	for _, t := range b.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// ProjectBoard folds board events, in log order, into the current board.
// Updates for unknown tasks are ignored.
func ProjectBoard(storeID string, events []Event) *Board {
	byID := map[string]*Task{}
	var order []string

	for _, e := range events {
		if e.Type != EventTaskCreated && e.Type != EventTaskUpdated {
			continue
		}
		var p TaskPayload
		if err := e.Decode(&p); err != nil || p.TaskID == "" {
			continue
		}
		switch e.Type {
		case EventTaskCreated:
			if _, exists := byID[p.TaskID]; exists {
				continue
			}
			status := p.Status
			if status == "" {
				status = TaskStatusTodo
			}
			byID[p.TaskID] = &Task{
				ID:          p.TaskID,
				Title:       p.Title,
				Description: p.Description,
				Status:      status,
				Assignee:    p.Assignee,
				CreatedAt:   e.CreatedAt,
				UpdatedAt:   e.CreatedAt,
			}
			order = append(order, p.TaskID)
		case EventTaskUpdated:
			t, ok := byID[p.TaskID]
			if !ok {
				continue
			}
			if p.Title != "" {
				t.Title = p.Title
			}
			if p.Description != "" {
				t.Description = p.Description
			}
			if p.Status != "" {
				t.Status = p.Status
			}
			if p.Assignee != "" {
				t.Assignee = p.Assignee
			}
			t.UpdatedAt = e.CreatedAt
		}
	}

	b := &Board{StoreID: storeID, Tasks: make([]Task, 0, len(order))}
	for _, id := range order {
		b.Tasks = append(b.Tasks, *byID[id])
	}
	sort.SliceStable(b.Tasks, func(i, j int) bool {
		return b.Tasks[i].CreatedAt.Before(b.Tasks[j].CreatedAt)
	})
	return b
}
