package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

// EngineClient defines the interface for the forge-engine generation backend
type EngineClient interface {
	Plan(ctx context.Context, prompt string, prefs models.Preferences) (*models.Plan, error)
	GenerateUnit(ctx context.Context, unit models.Unit, prefs models.Preferences, plan *models.Plan, onFragment func(fragment string) error) (string, error)
	EditContent(ctx context.Context, content, instruction string) (string, error)
	IsHealthy(ctx context.Context) bool
}

// ForgeEngineClient handles communication with the forge-engine service
type ForgeEngineClient struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	tracer       trace.Tracer
	breaker      *gobreaker.CircuitBreaker
}

// PlanRequest is the payload for the plan endpoint
type PlanRequest struct {
	Prompt      string             `json:"prompt"`
	Preferences models.Preferences `json:"preferences"`
}

// GenerateRequest is the payload for the streaming generate endpoint
type GenerateRequest struct {
	Unit        models.Unit        `json:"unit"`
	Preferences models.Preferences `json:"preferences"`
	Plan        *models.Plan       `json:"plan,omitempty"`
	Prompt      string             `json:"prompt"`
}

// EditRequest is the payload for the constrained edit endpoint
type EditRequest struct {
	Content     string `json:"content"`
	Instruction string `json:"instruction"`
	Prompt      string `json:"prompt"`
}

// EditResponse is the response from the edit endpoint
type EditResponse struct {
	Content string `json:"content"`
}

// NewForgeEngineClient creates a new forge-engine client
func NewForgeEngineClient(baseURL string, requestTimeout time.Duration) *ForgeEngineClient {
	// Initialize circuit breaker
	settings := gobreaker.Settings{
		Name:        "forge-engine",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &ForgeEngineClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		// Streaming requests are bounded by the caller's context deadline,
		// not a whole-request client timeout.
		streamClient: &http.Client{},
		tracer:       otel.Tracer("forge-engine-client"),
		breaker:      gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *ForgeEngineClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Plan asks the engine to break a prompt into an ordered list of units
func (c *ForgeEngineClient) Plan(ctx context.Context, prompt string, prefs models.Preferences) (*models.Plan, error) {
	ctx, span := c.tracer.Start(ctx, "forge_engine.plan")
	defer span.End()

	span.SetAttributes(attribute.Int("prompt.length", len(prompt)))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.planInternal(ctx, prompt, prefs)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to plan generation: %w", err)
	}

	plan := result.(*models.Plan)
	span.SetAttributes(attribute.Int("plan.units", len(plan.Units)))

	return plan, nil
}

// planInternal performs the actual HTTP request
func (c *ForgeEngineClient) planInternal(ctx context.Context, prompt string, prefs models.Preferences) (*models.Plan, error) {
	jsonData, err := json.Marshal(PlanRequest{Prompt: buildPlanPrompt(prompt, prefs), Preferences: prefs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/plan", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("forge-engine returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("forge-engine returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var plan models.Plan
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	return &plan, nil
}

// GenerateUnit streams generated content for one unit. Fragments are forwarded
// to onFragment as they arrive; the accumulated content is returned once the
// stream ends. Cancelling ctx stops consumption without leaking the call.
func (c *ForgeEngineClient) GenerateUnit(ctx context.Context, unit models.Unit, prefs models.Preferences, plan *models.Plan, onFragment func(fragment string) error) (string, error) {
	ctx, span := c.tracer.Start(ctx, "forge_engine.generate_unit")
	defer span.End()

	span.SetAttributes(
		attribute.String("unit.id", unit.ID),
		attribute.String("unit.name", unit.Name),
		attribute.String("unit.complexity", unit.Complexity),
	)

	jsonData, err := json.Marshal(GenerateRequest{
		Unit:        unit,
		Preferences: prefs,
		Plan:        plan,
		Prompt:      buildUnitPrompt(unit, prefs),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	// The breaker guards connection establishment; the stream itself is
	// consumed outside it so a long generation does not count as a failure.
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.streamClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("failed to open generate stream: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("forge-engine returned status %d: %s", resp.StatusCode, string(bodyBytes))
		}
		return resp, nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return "", err
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var fragment struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(data), &fragment); err != nil {
			log.Printf("Skipping malformed stream fragment for unit %s: %v", unit.ID, err)
			continue
		}

		accumulated.WriteString(fragment.Content)
		if onFragment != nil {
			if err := onFragment(fragment.Content); err != nil {
				span.RecordError(err)
				return "", err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("generate stream failed: %w", err)
	}

	content := accumulated.String()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("forge-engine returned empty content for unit %s", unit.Name)
	}

	span.SetAttributes(attribute.Int("content.length", len(content)))
	return content, nil
}

// EditContent asks the engine for a constrained, instruction-only modification
func (c *ForgeEngineClient) EditContent(ctx context.Context, content, instruction string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "forge_engine.edit_content")
	defer span.End()

	span.SetAttributes(attribute.Int("content.length", len(content)))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.editInternal(ctx, content, instruction)
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to edit content: %w", err)
	}

	return result.(string), nil
}

// editInternal performs the actual HTTP request
func (c *ForgeEngineClient) editInternal(ctx context.Context, content, instruction string) (string, error) {
	jsonData, err := json.Marshal(EditRequest{
		Content:     content,
		Instruction: instruction,
		Prompt:      buildEditPrompt(content, instruction),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/edit", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("forge-engine returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var editResp EditResponse
	if err := json.NewDecoder(resp.Body).Decode(&editResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return editResp.Content, nil
}

// IsHealthy checks if the forge-engine service is healthy
func (c *ForgeEngineClient) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "forge_engine.health_check")
	defer span.End()

	// Use circuit breaker state as a quick health indicator
	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	url := fmt.Sprintf("%s/health", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	// Short timeout for health checks
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))

	return healthy
}
