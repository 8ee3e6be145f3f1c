// Package progress derives human-readable progress from a session's plan
// and mirrors it to external trackers on a best-effort basis.
package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/parchment-ai/deckhand/pkg/state"
)

// PlanStatus summarizes the overall state of a session's plan.
type PlanStatus string

const (
	StatusPlanning  PlanStatus = "planning"
	StatusActive    PlanStatus = "active"
	StatusCompleted PlanStatus = "completed"
	StatusFailed    PlanStatus = "failed"
)

// Info is a point-in-time snapshot of plan progress.
type Info struct {
	SessionID  string
	Objective  string
	Status     PlanStatus
	Total      int
	Done       int
	InProgress int
	Failed     int
	Pending    int
	StartedAt  time.Time
	Duration   time.Duration
}

// Tracker computes progress snapshots for a running session.
type Tracker struct {
	sessionID string
	objective string
	startTime time.Time
}

func NewTracker(sessionID, objective string) *Tracker {
	return &Tracker{
		sessionID: sessionID,
		objective: objective,
		startTime: time.Now(),
	}
}

// Snapshot derives an Info from the plan, counting subtasks as work units.
func (t *Tracker) Snapshot(plan []state.PlanTask) *Info {
	total := state.CountTasks(plan)
	done := state.CountByStatus(plan, state.TaskDone)
	inProgress := state.CountByStatus(plan, state.TaskInProgress)
	failed := state.CountByStatus(plan, state.TaskFailed)
	pending := total - done - inProgress - failed

	return &Info{
		SessionID:  t.sessionID,
		Objective:  t.objective,
		Status:     deriveStatus(done, inProgress, failed, total),
		Total:      total,
		Done:       done,
		InProgress: inProgress,
		Failed:     failed,
		Pending:    pending,
		StartedAt:  t.startTime,
		Duration:   time.Since(t.startTime),
	}
}

func deriveStatus(done, inProgress, failed, total int) PlanStatus {
	if total == 0 {
		return StatusPlanning
	}
	if done == total {
		return StatusCompleted
	}
	if failed > 0 && inProgress == 0 {
		return StatusFailed
	}
	if inProgress > 0 || done > 0 {
		return StatusActive
	}
	return StatusPlanning
}

// RenderBar renders a textual progress bar of the given width.
func RenderBar(info *Info, width int) string {
	if info == nil || info.Total == 0 {
		return ""
	}
	if width < 10 {
		width = 40
	}

	barWidth := width - 10
	completed := float64(info.Done) / float64(info.Total)
	filledWidth := int(completed * float64(barWidth))

	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < barWidth; i++ {
		switch {
		case i < filledWidth:
			bar.WriteString("█")
		case i == filledWidth && info.InProgress > 0:
			bar.WriteString("▓")
		default:
			bar.WriteString("░")
		}
	}
	bar.WriteString("]")
	bar.WriteString(fmt.Sprintf(" %3d%%", int(completed*100)))
	return bar.String()
}

// RenderCompact renders a one-line progress summary.
func RenderCompact(info *Info) string {
	if info == nil {
		return ""
	}

	parts := []string{
		string(info.Status),
		info.Objective,
		fmt.Sprintf("%d/%d", info.Done, info.Total),
	}
	if info.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", info.Failed))
	}
	return strings.Join(parts, " | ")
}

// RenderTaskList renders plan tasks with status markers, limited to `limit`
// top-level entries when limit > 0.
func RenderTaskList(plan []state.PlanTask, limit int) string {
	if len(plan) == 0 {
		return "No tasks"
	}

	var out strings.Builder
	shown := 0
	for _, task := range plan {
		if limit > 0 && shown >= limit {
			out.WriteString(fmt.Sprintf("  ... and %d more tasks\n", len(plan)-shown))
			break
		}
		out.WriteString(fmt.Sprintf("  %s %s\n", statusIcon(task.Status), task.Title))
		for _, sub := range task.Subtasks {
			out.WriteString(fmt.Sprintf("    %s %s\n", statusIcon(sub.Status), sub.Title))
		}
		shown++
	}
	return out.String()
}

func statusIcon(status state.TaskStatus) string {
	switch status {
	case state.TaskDone:
		return "✓"
	case state.TaskInProgress:
		return "▶"
	case state.TaskFailed:
		return "✗"
	case state.TaskBlocked:
		return "⊘"
	default:
		return "·"
	}
}
