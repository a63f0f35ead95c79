package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentsql/agentsql/internal/catalog"
	"github.com/agentsql/agentsql/internal/config"
	"github.com/agentsql/agentsql/internal/demonstration"
	"github.com/agentsql/agentsql/internal/nl2sql"
	"github.com/agentsql/agentsql/internal/observability"
	"github.com/agentsql/agentsql/internal/query"
	"github.com/agentsql/agentsql/internal/routing"
)

const (
	AgentDatabaseRouting        = "database_routing"
	AgentSchemaFetching         = "schema_fetching"
	AgentDemonstrationSelection = "demonstration_selection"
	AgentPromptConstruction     = "prompt_construction"
	AgentErrorCorrection        = "error_correction"
	AgentSQLExecution           = "sql_execution"

	StatusActive   = "active"
	StatusInactive = "inactive"

	DefaultNumDemonstrations = 5
)

var (
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrInvalidStatus = errors.New("invalid agent status")
	ErrAgentInactive = errors.New("agent is inactive")
)

var agentNames = []string{
	AgentDatabaseRouting,
	AgentSchemaFetching,
	AgentDemonstrationSelection,
	AgentPromptConstruction,
	AgentErrorCorrection,
	AgentSQLExecution,
}

type SchemaFetcher interface {
	Fetch(ctx context.Context, dbID string) (string, error)
}

type DemonstrationSelector interface {
	Select(ctx context.Context, question, strategyName string, k int) ([]demonstration.Pair, error)
}

type RunRecorder interface {
	RecordRun(ctx context.Context, in catalog.RecordRunInput) (catalog.Run, error)
}

type EvaluationRecorder interface {
	RecordEvaluation(ctx context.Context, in catalog.RecordEvaluationInput) (catalog.Evaluation, error)
}

type Defaults struct {
	Strategy              string
	NumDemonstrations     int
	DemonstrationTemplate string
	PromptTemplate        string
	Model                 string
	RulesGroups           []int
	RowLimit              int

	UseRouting         bool
	UseDemonstrations  bool
	UseErrorCorrection bool
	UseExecution       bool
}

func DefaultsFromConfig(cfg config.Config) Defaults {
	return Defaults{
		Strategy:              cfg.Selection.Strategy,
		NumDemonstrations:     cfg.Selection.NumDemonstrations,
		DemonstrationTemplate: cfg.Selection.Template,
		PromptTemplate:        cfg.Prompt.Template,
		Model:                 cfg.AI.Model,
		RulesGroups:           append([]int(nil), cfg.Pipeline.RulesGroups...),
		RowLimit:              cfg.Execution.RowLimit,
		UseRouting:            cfg.Pipeline.UseRouting,
		UseDemonstrations:     cfg.Pipeline.UseDemonstrations,
		UseErrorCorrection:    cfg.Pipeline.UseErrorCorrection,
		UseExecution:          cfg.Pipeline.UseExecution,
	}
}

type Request struct {
	Question           string
	DBID               string
	UseRouting         bool
	UseDemonstrations  bool
	Strategy           string
	NumDemonstrations  int
	PromptTemplate     string
	Model              string
	UseErrorCorrection bool
	RulesGroups        []int
	UseExecution       bool
}

type Result struct {
	RunID             string                  `json:"run_id"`
	TraceID           string                  `json:"trace_id"`
	Question          string                  `json:"question"`
	DBID              string                  `json:"db_id"`
	SchemaText        string                  `json:"schema_text"`
	DemonstrationText string                  `json:"demonstration_text"`
	Prompt            string                  `json:"prompt"`
	GeneratedSQL      string                  `json:"generated_sql"`
	CorrectionPrompt  string                  `json:"correction_prompt,omitempty"`
	CorrectedSQL      string                  `json:"corrected_sql,omitempty"`
	FinalSQL          string                  `json:"final_sql"`
	Execution         *query.ExecutionOutcome `json:"execution,omitempty"`
	Model             string                  `json:"model"`
	PromptTokens      int                     `json:"prompt_tokens"`
	CompletionTokens  int                     `json:"completion_tokens"`
	CostUSD           float64                 `json:"cost_usd"`
	Duration          time.Duration           `json:"duration"`
}

type AgentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type Center struct {
	Router         routing.Router
	Schemas        SchemaFetcher
	Demonstrations DemonstrationSelector
	Translator     nl2sql.Translator
	Engine         query.Engine
	Runs           RunRecorder
	Evaluations    EvaluationRecorder
	Defaults       Defaults
	Logger         *slog.Logger
	Clock          func() time.Time

	once     sync.Once
	mu       sync.Mutex
	statuses map[string]string
}

func (c *Center) ensureDefaults() {
	c.once.Do(c.applyDefaults)
}

func (c *Center) applyDefaults() {
	if c.Logger == nil {
		c.Logger = observability.DiscardLogger()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if strings.TrimSpace(c.Defaults.Strategy) == "" {
		c.Defaults.Strategy = demonstration.StrategyJaccard
	}
	if c.Defaults.NumDemonstrations <= 0 {
		c.Defaults.NumDemonstrations = DefaultNumDemonstrations
	}
	if c.Defaults.DemonstrationTemplate == "" {
		c.Defaults.DemonstrationTemplate = demonstration.DefaultDemonstrationTemplate
	}
	if len(c.Defaults.RulesGroups) == 0 {
		c.Defaults.RulesGroups = append([]int(nil), nl2sql.DefaultRulesGroups...)
	}
}

func (c *Center) statusesLocked() map[string]string {
	if c.statuses == nil {
		c.statuses = make(map[string]string, len(agentNames))
		for _, name := range agentNames {
			c.statuses[name] = StatusActive
		}
	}
	return c.statuses
}

func (c *Center) SetStatus(name, status string) error {
	name = strings.TrimSpace(name)
	status = strings.TrimSpace(status)
	c.mu.Lock()
	defer c.mu.Unlock()
	statuses := c.statusesLocked()
	if _, ok := statuses[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	statuses[name] = status
	return nil
}

func (c *Center) Statuses() []AgentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	statuses := c.statusesLocked()
	out := make([]AgentStatus, 0, len(statuses))
	for name, status := range statuses {
		out = append(out, AgentStatus{Name: name, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Center) active(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusesLocked()[name] == StatusActive
}

func (c *Center) NewRequest(question string) Request {
	c.ensureDefaults()
	return Request{
		Question:           question,
		UseRouting:         c.Defaults.UseRouting,
		UseDemonstrations:  c.Defaults.UseDemonstrations,
		Strategy:           c.Defaults.Strategy,
		NumDemonstrations:  c.Defaults.NumDemonstrations,
		PromptTemplate:     c.Defaults.PromptTemplate,
		Model:              c.Defaults.Model,
		UseErrorCorrection: c.Defaults.UseErrorCorrection,
		RulesGroups:        append([]int(nil), c.Defaults.RulesGroups...),
		UseExecution:       c.Defaults.UseExecution,
	}
}

func (c *Center) Run(ctx context.Context, req Request) (Result, error) {
	c.ensureDefaults()
	start := c.Clock()

	result := Result{
		RunID:    uuid.NewString(),
		Question: req.Question,
		DBID:     strings.TrimSpace(req.DBID),
	}
	result.TraceID = observability.TraceIDFromContext(ctx)
	if result.TraceID == "" {
		result.TraceID = result.RunID
		ctx = observability.ContextWithTraceID(ctx, result.TraceID)
	}

	err := c.run(ctx, req, &result)
	result.Duration = c.Clock().Sub(start)

	status := catalog.RunStatusSucceeded
	if err != nil {
		status = catalog.RunStatusFailed
	}
	observability.ObservePipelineRun(status, result.Duration)
	c.record(ctx, req, result, status, err)

	if err != nil {
		c.Logger.WarnContext(ctx, "pipeline_run_failed",
			slog.String("trace_id", result.TraceID),
			slog.String("run_id", result.RunID),
			slog.String("db_id", result.DBID),
			slog.String("error", err.Error()),
		)
		return result, err
	}
	attrs := []any{
		slog.String("trace_id", result.TraceID),
		slog.String("run_id", result.RunID),
		slog.String("db_id", result.DBID),
		slog.Int("prompt_tokens", result.PromptTokens),
		slog.Float64("cost_usd", result.CostUSD),
		slog.String("duration", result.Duration.String()),
	}
	if result.Execution != nil {
		attrs = append(attrs, slog.String("execution_status", result.Execution.Status))
	}
	c.Logger.InfoContext(ctx, "pipeline_run_completed", attrs...)
	return result, nil
}

func (c *Center) run(ctx context.Context, req Request, result *Result) error {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return errors.New("question is required")
	}

	if req.UseRouting && c.active(AgentDatabaseRouting) {
		if c.Router == nil {
			return errors.New("route question: no router configured")
		}
		dbID, err := c.Router.Route(ctx, question)
		if err != nil {
			return fmt.Errorf("route question: %w", err)
		}
		result.DBID = dbID
	}

	if c.active(AgentSchemaFetching) {
		if result.DBID == "" {
			return errors.New("fetch schema: db_id is required")
		}
		if c.Schemas == nil {
			return errors.New("fetch schema: no schema fetcher configured")
		}
		text, err := c.Schemas.Fetch(ctx, result.DBID)
		if err != nil {
			return fmt.Errorf("fetch schema: %w", err)
		}
		result.SchemaText = text
	}

	if req.UseDemonstrations && c.active(AgentDemonstrationSelection) {
		if c.Demonstrations == nil {
			return errors.New("select demonstrations: no selector configured")
		}
		strategy := firstNonEmpty(req.Strategy, c.Defaults.Strategy)
		k := req.NumDemonstrations
		if k <= 0 {
			k = c.Defaults.NumDemonstrations
		}
		pairs, err := c.Demonstrations.Select(ctx, question, strategy, k)
		if err != nil {
			return fmt.Errorf("select demonstrations: %w", err)
		}
		result.DemonstrationText = demonstration.Render(pairs, c.Defaults.DemonstrationTemplate)
	}

	if !c.active(AgentPromptConstruction) {
		return fmt.Errorf("construct prompt: %w: %s", ErrAgentInactive, AgentPromptConstruction)
	}
	if c.Translator == nil {
		return errors.New("construct prompt: no translator configured")
	}
	prompt, err := nl2sql.BuildPrompt(firstNonEmpty(req.PromptTemplate, c.Defaults.PromptTemplate), question, result.SchemaText, result.DemonstrationText)
	if err != nil {
		return fmt.Errorf("construct prompt: %w", err)
	}
	result.Prompt = prompt
	model := firstNonEmpty(req.Model, c.Defaults.Model)
	generated, err := c.Translator.Translate(ctx, nl2sql.Request{Prompt: prompt, Model: model})
	if err != nil {
		return fmt.Errorf("generate sql: %w", err)
	}
	result.addUsage(generated)
	result.GeneratedSQL = generated.SQL
	result.FinalSQL = generated.SQL

	if req.UseErrorCorrection && c.active(AgentErrorCorrection) {
		groups := req.RulesGroups
		if len(groups) == 0 {
			groups = c.Defaults.RulesGroups
		}
		correctionPrompt, err := nl2sql.BuildCorrectionPrompt(question, result.GeneratedSQL, result.SchemaText, groups)
		if err != nil {
			return fmt.Errorf("build correction prompt: %w", err)
		}
		result.CorrectionPrompt = correctionPrompt
		corrected, err := c.Translator.Translate(ctx, nl2sql.Request{Prompt: correctionPrompt, Model: model})
		if err != nil {
			return fmt.Errorf("correct sql: %w", err)
		}
		result.addUsage(corrected)
		result.CorrectedSQL = corrected.SQL
		result.FinalSQL = corrected.SQL
	}

	if req.UseExecution && c.active(AgentSQLExecution) {
		if c.Engine == nil {
			return errors.New("execute sql: no engine configured")
		}
		outcome := query.Outcome(c.Engine.Execute(ctx, query.Request{
			SQL:      result.FinalSQL,
			DBID:     result.DBID,
			RowLimit: c.Defaults.RowLimit,
		}))
		result.Execution = &outcome
	}
	return nil
}

func (r *Result) addUsage(res nl2sql.Result) {
	r.Model = res.Model
	r.PromptTokens += res.PromptTokens
	r.CompletionTokens += res.CompletionTokens
	r.CostUSD += res.CostUSD
}

func (c *Center) record(ctx context.Context, req Request, result Result, status string, runErr error) {
	if c.Runs == nil {
		return
	}
	in := catalog.RecordRunInput{
		RunID:            result.RunID,
		TraceID:          result.TraceID,
		Question:         result.Question,
		DBID:             result.DBID,
		PromptTemplate:   firstNonEmpty(req.PromptTemplate, c.Defaults.PromptTemplate),
		Model:            result.Model,
		GeneratedSQL:     result.GeneratedSQL,
		CorrectedSQL:     result.CorrectedSQL,
		FinalSQL:         result.FinalSQL,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		CostUSD:          result.CostUSD,
		DurationMs:       result.Duration.Milliseconds(),
		Status:           status,
	}
	if result.DemonstrationText != "" {
		in.Strategy = firstNonEmpty(req.Strategy, c.Defaults.Strategy)
		in.NumDemonstrations = req.NumDemonstrations
		if in.NumDemonstrations <= 0 {
			in.NumDemonstrations = c.Defaults.NumDemonstrations
		}
	}
	if result.Execution != nil {
		in.ExecutionStatus = result.Execution.Status
		in.RowCount = len(result.Execution.Rows)
		in.ErrorMessage = result.Execution.ErrorMessage
	}
	if runErr != nil {
		in.ErrorMessage = runErr.Error()
	}
	if _, err := c.Runs.RecordRun(ctx, in); err != nil {
		c.Logger.ErrorContext(ctx, "pipeline_run_record_failed",
			slog.String("trace_id", result.TraceID),
			slog.String("run_id", result.RunID),
			slog.String("error", err.Error()),
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
