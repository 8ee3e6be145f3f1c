package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parchment-ai/deckhand/pkg/artifact"
	"github.com/parchment-ai/deckhand/pkg/checkpoint"
	"github.com/parchment-ai/deckhand/pkg/config"
	"github.com/parchment-ai/deckhand/pkg/errors"
	"github.com/parchment-ai/deckhand/pkg/graph"
	"github.com/parchment-ai/deckhand/pkg/logging"
	"github.com/parchment-ai/deckhand/pkg/model"
	"github.com/parchment-ai/deckhand/pkg/progress"
	"github.com/parchment-ai/deckhand/pkg/render"
	"github.com/parchment-ai/deckhand/pkg/state"
	"github.com/parchment-ai/deckhand/pkg/telemetry"
	"github.com/parchment-ai/deckhand/pkg/tool"
)

// Pipeline node names.
const (
	NodePlan     = "plan"
	NodeAnalysis = "analysis"
	NodeApproval = "approval"
	NodeReport   = "report"
)

// ControllerDeps carries the shared collaborators of a Controller. Client
// and Store are required; everything else degrades to a quiet default.
type ControllerDeps struct {
	Config      *config.Config
	Client      model.Client
	Store       artifact.Store
	Checkpoints *checkpoint.Store
	Observer    progress.Observer
	Logger      *logging.Logger
	Hub         *telemetry.Hub

	// BaseTools are registered into every session registry alongside the
	// session-scoped artifact reader, e.g. a metrics query tool.
	BaseTools []tool.Tool
}

// Controller owns session lifecycle: it assembles the pipeline graph per
// session, runs it, suspends before report generation, and resumes from the
// persisted checkpoint when input arrives.
type Controller struct {
	cfg         *config.Config
	client      model.Client
	store       artifact.Store
	checkpoints *checkpoint.Store
	observer    progress.Observer
	logger      *logging.Logger
	hub         *telemetry.Hub
	baseTools   []tool.Tool
}

// NewController validates deps and builds a controller.
func NewController(deps ControllerDeps) (*Controller, error) {
	if deps.Client == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "model client is required")
	}
	if deps.Store == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "artifact store is required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	observer := deps.Observer
	if observer == nil {
		observer = progress.NewMemoryObserver()
	}
	return &Controller{
		cfg:         cfg,
		client:      deps.Client,
		store:       deps.Store,
		checkpoints: deps.Checkpoints,
		observer:    observer,
		logger:      deps.Logger,
		hub:         deps.Hub,
		baseTools:   deps.BaseTools,
	}, nil
}

// Run starts a fresh session for the objective. It returns a paused result
// when the graph suspends before report generation; call Resume with the
// approval input to finish.
func (c *Controller) Run(ctx context.Context, sessionID, objective string, dimensions []string) (*graph.Result, error) {
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	if objective == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "objective is required")
	}

	st := state.New(sessionID, objective)
	st.SelectedDimensions = append([]string(nil), dimensions...)
	st.Messages = []state.Message{{
		Role:      "user",
		Content:   objective,
		Timestamp: time.Now(),
	}}

	runner, err := c.buildRunner(sessionID)
	if err != nil {
		return nil, err
	}

	c.publish(telemetry.EventSessionStarted, sessionID, map[string]any{"objective": objective})
	c.logger.Info(logging.CategorySession, "session_started", objective, map[string]any{
		"session_id": sessionID,
		"dimensions": dimensions,
	})

	res, err := runner.Run(ctx, st)
	return c.finish(res, err)
}

// Resume loads the session's checkpoint, applies the external input as a
// user message, clears the waiting flag, and continues from the pending
// node. On a recovery checkpoint the input "skip" routes past the failed
// node instead of retrying it: its plan rows are marked blocked and the
// pipeline continues with whatever the remaining nodes can still produce.
// The checkpoint is deleted once the run reaches a terminal state.
func (c *Controller) Resume(ctx context.Context, sessionID, input string) (*graph.Result, error) {
	if c.checkpoints == nil {
		return nil, errors.New(errors.ErrCodeCheckpointMissing, "no checkpoint store configured")
	}
	cp, err := c.checkpoints.Load(sessionID)
	if err != nil {
		return nil, err
	}

	st := cp.State
	delta := &state.Delta{AwaitingInput: state.Bool(false)}
	if input != "" {
		delta.Messages = []state.Message{{
			Role:      "user",
			Content:   input,
			Timestamp: time.Now(),
		}}
	}
	st.Apply(delta)

	runner, err := c.buildRunner(sessionID)
	if err != nil {
		return nil, err
	}

	skip := cp.Recovery && strings.EqualFold(strings.TrimSpace(input), "skip")
	c.logger.Info(logging.CategorySession, "session_resuming", "", map[string]any{
		"session_id":   sessionID,
		"pending_node": cp.PendingNode,
		"skip":         skip,
	})

	var res *graph.Result
	var runErr error
	if skip {
		st.Apply(c.skipDelta(st, cp.PendingNode))
		res, runErr = runner.SkipFrom(ctx, st, cp.PendingNode)
	} else {
		res, runErr = runner.ResumeFrom(ctx, st, cp.PendingNode)
	}
	if runErr == nil && res != nil && !res.Paused {
		if delErr := c.checkpoints.Delete(sessionID); delErr != nil {
			c.logger.Warn(logging.CategoryCheckpoint, "checkpoint_delete_failed", delErr.Error(), map[string]any{
				"session_id": sessionID,
			})
		}
	}
	return c.finish(res, runErr)
}

// skipDelta marks the failed node's plan rows blocked and sets whatever
// fields its outgoing edge routes on, so the graph can continue past it.
func (c *Controller) skipDelta(st *state.State, node string) *state.Delta {
	plan := state.ClonePlan(st.Plan)
	if task := state.FindTask(plan, node); task != nil {
		task.Status = state.TaskBlocked
		for i := range task.Subtasks {
			if task.Subtasks[i].Status != state.TaskDone {
				task.Subtasks[i].Status = state.TaskBlocked
			}
		}
	}

	d := &state.Delta{
		Plan:      plan,
		Reasoning: []string{fmt.Sprintf("%s: skipped after transient failure", node)},
	}
	if node == NodeAnalysis {
		// The analysis edge routes on the synthesis decision, which the
		// skipped node never produced.
		missing := append([]string(nil), st.SelectedDimensions...)
		if len(missing) == 0 {
			for _, u := range DefaultCatalog(c.client, nil) {
				missing = append(missing, u.ID)
			}
		}
		d.Decision = state.Str("incomplete")
		d.MissingDimensions = missing
	}
	return d
}

// Teardown removes everything the session persisted: stored artifacts and
// its checkpoint. Safe to call for sessions that never paused.
func (c *Controller) Teardown(ctx context.Context, sessionID string) error {
	if err := c.store.PurgeSession(ctx, sessionID); err != nil {
		return err
	}
	if c.checkpoints != nil {
		if err := c.checkpoints.Delete(sessionID); err != nil {
			return err
		}
	}
	return nil
}

// Progress reports plan completion for a running or paused session state.
func (c *Controller) Progress(st *state.State) *progress.Info {
	tracker := progress.NewTracker(st.SessionID, st.Objective)
	return tracker.Snapshot(st.Plan)
}

// buildRunner assembles the per-session graph:
//
//	plan -> analysis -(complete|incomplete)-> approval -> [pause] report -> end
//
// Both analysis outcomes route to the approval gate; the decision only
// changes the prompt the gate presents.
func (c *Controller) buildRunner(sessionID string) (*graph.Runner, error) {
	registry := tool.NewRegistry()
	if err := registry.Register(NewReadArtifactTool(c.store, sessionID)); err != nil {
		return nil, err
	}
	for _, t := range c.baseTools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	catalog := DefaultCatalog(c.client, registry)

	fanOut := NewFanOut(catalog, NewSynthesisUnit(c.client), c.store, c.observer).
		WithObservability(c.logger, c.hub)

	report := NewReportNode(ReportDeps{
		Draft:             NewDraftUnit(c.client, registry),
		Structure:         NewStructureUnit(c.client),
		Store:             c.store,
		Charts:            c.chartRenderer(),
		Deck:              c.deckExporter(),
		Table:             c.tableExporter(),
		Catalog:           catalog,
		OutDir:            c.cfg.Report.OutputDir,
		Logger:            c.logger,
		Hub:               c.hub,
		MinHeadings:       c.cfg.Report.MinHeadings,
		MinSlides:         c.cfg.Report.MinSlides,
		DraftAttempts:     c.cfg.Pipeline.RetryAttempts,
		StructureAttempts: c.cfg.Report.StructureAttempts,
	})

	b := graph.NewBuilder()
	if err := b.AddNode(NodePlan, NewPlanUnit(catalog)); err != nil {
		return nil, err
	}
	if err := b.AddNode(NodeAnalysis, fanOut); err != nil {
		return nil, err
	}
	if err := b.AddNode(NodeApproval, NewApprovalGate()); err != nil {
		return nil, err
	}
	if err := b.AddNode(NodeReport, report); err != nil {
		return nil, err
	}

	b.SetEntry(NodePlan).
		AddEdge(NodePlan, NodeAnalysis).
		AddConditionalEdge(NodeAnalysis, func(s *state.State) string {
			return s.Decision
		}, map[string]string{
			"complete":   NodeApproval,
			"incomplete": NodeApproval,
		}).
		AddEdge(NodeApproval, NodeReport).
		AddEdge(NodeReport, graph.End).
		InterruptBefore(NodeReport).
		WithMaxSteps(c.cfg.Pipeline.MaxSteps)

	compiled, err := b.Compile()
	if err != nil {
		return nil, err
	}

	opts := []graph.RunnerOption{
		graph.WithLogger(c.logger),
		graph.WithHub(c.hub),
	}
	if c.checkpoints != nil {
		opts = append(opts, graph.WithSaver(checkpoint.NewSessionSaver(c.checkpoints)))
	}
	return graph.NewRunner(compiled, opts...), nil
}

func (c *Controller) finish(res *graph.Result, err error) (*graph.Result, error) {
	if res == nil {
		return nil, err
	}
	switch {
	case err != nil:
		c.publish(telemetry.EventSessionFailed, res.State.SessionID, map[string]any{"error": err.Error()})
		// A transient failure becomes a resumable pause instead of lost
		// work: checkpoint at the failed node so Resume can retry it, or
		// skip past it with the input "skip".
		if errors.IsRetryable(err) && res.FailedNode != "" && c.checkpoints != nil {
			cp := &checkpoint.Checkpoint{
				SessionID:   res.State.SessionID,
				PendingNode: res.FailedNode,
				Prompt: fmt.Sprintf("transient failure at %s: %s — resume to retry, or resume with input %q to continue without it",
					res.FailedNode, err.Error(), "skip"),
				State:    res.State,
				Recovery: true,
			}
			if saveErr := c.checkpoints.Save(cp); saveErr != nil {
				c.logger.Warn(logging.CategoryCheckpoint, "recovery_checkpoint_failed", saveErr.Error(), map[string]any{
					"session_id": res.State.SessionID,
				})
			}
		}
	case !res.Paused:
		c.publish(telemetry.EventSessionComplete, res.State.SessionID, nil)
		c.logger.Info(logging.CategorySession, "session_complete", "", map[string]any{
			"session_id": res.State.SessionID,
			"steps":      res.Steps,
		})
	}
	return res, err
}

func (c *Controller) chartRenderer() render.ChartRenderer {
	return render.NewFileChartRenderer(c.cfg.Report.OutputDir)
}

func (c *Controller) deckExporter() render.DeckExporter {
	return render.NewJSONDeckExporter(c.cfg.Report.OutputDir)
}

func (c *Controller) tableExporter() render.TabularExporter {
	return render.NewXLSXExporter(c.cfg.Report.OutputDir)
}

func (c *Controller) publish(eventType telemetry.EventType, sessionID string, data map[string]any) {
	if c.hub == nil {
		return
	}
	c.hub.Publish(telemetry.Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}
