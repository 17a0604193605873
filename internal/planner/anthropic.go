package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cubeline/cubeline/internal/config"
	"github.com/cubeline/cubeline/pkg/models"
)

const systemPrompt = `You are an OLAP query planner for a Business Intelligence system.
Your job is to parse natural language business questions and output a JSON execution plan.

Available agents and their operations:
1. DimensionNavigator: drill_down, roll_up, group
2. CubeOperations: slice, dice, pivot, drill_through
3. KPICalculator: yoy_growth, mom_change, compare_periods, top_n, profit_margins, summary
4. ReportGenerator: executive_summary, trend_report, format_table
5. Visualization: visualize
6. AnomalyDetection: monthly_anomaly, product_anomaly

Dimension values (use EXACT values):
- year: 2022, 2023, 2024
- quarter: "Q1", "Q2", "Q3", "Q4"
- month: "January", "February", ..., "December"
- region: "North America", "Europe", "Asia Pacific", "Latin America"
- category: "Electronics", "Furniture", "Office Supplies", "Clothing"
- customer_segment: "Consumer", "Corporate", "Home Office"

A step parameter may reference an earlier step's output with "$step[i].field",
where field is "data", "columns", "summary", "sql", or a column of the step's
first result row. Steps may only reference earlier steps.

Output a JSON object with this structure:
{
  "intent": "one sentence description of what the user wants",
  "steps": [
    {"agent": "AgentName", "operation": "operation_name", "parameters": { ... }}
  ],
  "suggested_followups": ["follow-up question 1", "follow-up question 2"]
}

Rules:
- For comparisons, always use KPICalculator with compare_periods.
- For drill-down requests, use DimensionNavigator with drill_down.
- For "top N" questions, use KPICalculator with top_n.
- Infer year = 2024 when the user says "this year" or "current year".
- Infer year = 2023 when the user says "last year".
- For vague or overall questions, use KPICalculator summary followed by ReportGenerator executive_summary.
- Output ONLY the JSON, no explanation, no markdown code fences.`

// codeFence strips leading/trailing markdown fences from model output.
var codeFence = regexp.MustCompile("(?m)^```(?:json)?\\s*|\\s*```$")

// Anthropic proposes plans via the Anthropic Messages API. Its output is
// untrusted; the engine validates it exactly like the fallback planner's.
type Anthropic struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropic builds the hosted planner client, or nil when no API key is
// configured.
func NewAnthropic(cfg config.PlannerConfig) *Anthropic {
	if cfg.APIKey == "" {
		return nil
	}
	return &Anthropic{
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []anthropicMsg `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Plan asks the model for a plan, passing the recent conversation turns as
// message history so follow-up questions resolve against prior answers.
func (a *Anthropic) Plan(ctx context.Context, query string, turns []models.ConversationTurn) (models.Plan, error) {
	messages := make([]anthropicMsg, 0, len(turns)*2+1)
	for _, turn := range turns {
		messages = append(messages,
			anthropicMsg{Role: "user", Content: turn.Query},
			anthropicMsg{Role: "assistant", Content: turn.Summary},
		)
	}
	messages = append(messages, anthropicMsg{Role: "user", Content: query})

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		Messages:  messages,
	})
	if err != nil {
		return models.Plan{}, fmt.Errorf("marshal plan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return models.Plan{}, fmt.Errorf("build plan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return models.Plan{}, fmt.Errorf("call planning service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Plan{}, fmt.Errorf("read plan response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Plan{}, fmt.Errorf("planning service returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.Plan{}, fmt.Errorf("decode plan response: %w", err)
	}
	if parsed.Error != nil {
		return models.Plan{}, fmt.Errorf("planning service error: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return models.Plan{}, fmt.Errorf("planning service returned no content")
	}

	text := strings.TrimSpace(codeFence.ReplaceAllString(parsed.Content[0].Text, ""))
	var plan models.Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return models.Plan{}, fmt.Errorf("planning service returned invalid plan JSON: %w", err)
	}
	return plan, nil
}
