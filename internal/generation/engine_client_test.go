package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

func TestPlanDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/v1/plan", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req PlanRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Prompt, "a portfolio site")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.Plan{
			Summary: "portfolio",
			Units: []models.Unit{
				{Name: "hero", Kind: "html", Complexity: models.ComplexityMedium},
				{Name: "styles", Kind: "css", Complexity: models.ComplexityLow},
			},
		})
	}))
	defer server.Close()

	client := NewForgeEngineClient(server.URL, 5*time.Second)

	plan, err := client.Plan(context.Background(), "a portfolio site", models.Preferences{Styling: "tailwind"})
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	assert.Equal(t, "hero", plan.Units[0].Name)
	assert.Equal(t, "portfolio", plan.Summary)
}

func TestPlanNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewForgeEngineClient(server.URL, 5*time.Second)

	_, err := client.Plan(context.Background(), "a portfolio site", models.Preferences{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestGenerateUnitStreamsFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/generate", r.URL.Path)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"<div>", "hero", "</div>"} {
			data, _ := json.Marshal(map[string]string{"content": chunk})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewForgeEngineClient(server.URL, 5*time.Second)

	var fragments []string
	content, err := client.GenerateUnit(context.Background(),
		models.Unit{ID: "u1", Name: "hero", Kind: "html"},
		models.Preferences{},
		&models.Plan{},
		func(fragment string) error {
			fragments = append(fragments, fragment)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, "<div>hero</div>", content)
	assert.Equal(t, []string{"<div>", "hero", "</div>"}, fragments)
}

func TestGenerateUnitSkipsMalformedFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "data: {\"content\":\"ok\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewForgeEngineClient(server.URL, 5*time.Second)

	content, err := client.GenerateUnit(context.Background(),
		models.Unit{ID: "u1", Name: "hero"}, models.Preferences{}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", content)
}

func TestGenerateUnitEmptyContentIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewForgeEngineClient(server.URL, 5*time.Second)

	_, err := client.GenerateUnit(context.Background(),
		models.Unit{ID: "u1", Name: "hero"}, models.Preferences{}, nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty content")
}

func TestEditContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/edit", r.URL.Path)

		var req EditRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "change the color", req.Instruction)

		json.NewEncoder(w).Encode(EditResponse{Content: "<div>edited</div>"})
	}))
	defer server.Close()

	client := NewForgeEngineClient(server.URL, 5*time.Second)

	content, err := client.EditContent(context.Background(), "<div>original</div>", "change the color")
	require.NoError(t, err)
	assert.Equal(t, "<div>edited</div>", content)
}

func TestIsHealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	client := NewForgeEngineClient(healthy.URL, 5*time.Second)
	assert.True(t, client.IsHealthy(context.Background()))

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	client.SetBaseURL(unhealthy.URL)
	assert.False(t, client.IsHealthy(context.Background()))
}
