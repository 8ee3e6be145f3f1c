package state

// TaskStatus is the lifecycle vocabulary shared by plan tasks and their
// nested sub-unit rows.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// PlanTask is one row of the session plan. Tasks are created by the planning
// step and status-transitioned by composite nodes; they are never deleted.
type PlanTask struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	Subtasks []PlanTask `json:"subtasks,omitempty"`
}

// ClonePlan deep-copies a plan task tree.
func ClonePlan(tasks []PlanTask) []PlanTask {
	if tasks == nil {
		return nil
	}
	out := make([]PlanTask, len(tasks))
	for i, t := range tasks {
		out[i] = t
		out[i].Subtasks = ClonePlan(t.Subtasks)
	}
	return out
}

// FindTask returns the task with the given ID, searching subtasks too.
func FindTask(tasks []PlanTask, id string) *PlanTask {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
		if sub := FindTask(tasks[i].Subtasks, id); sub != nil {
			return sub
		}
	}
	return nil
}

// CountByStatus returns how many tasks (including subtasks) carry the status.
func CountByStatus(tasks []PlanTask, status TaskStatus) int {
	count := 0
	for _, t := range tasks {
		if t.Status == status {
			count++
		}
		count += CountByStatus(t.Subtasks, status)
	}
	return count
}

// CountTasks returns the total number of tasks including subtasks.
func CountTasks(tasks []PlanTask) int {
	count := len(tasks)
	for _, t := range tasks {
		count += CountTasks(t.Subtasks)
	}
	return count
}

// AllDone reports whether every task and subtask is done.
func AllDone(tasks []PlanTask) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.Status != TaskDone {
			return false
		}
		if len(t.Subtasks) > 0 && !AllDone(t.Subtasks) {
			return false
		}
	}
	return true
}
