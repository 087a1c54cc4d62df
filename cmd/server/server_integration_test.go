//go:build integration

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dfaulken/rules/internal/database"
	"github.com/dfaulken/rules/rules"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}

	return db, cleanup
}

// TestEndToEnd_Postgres repeats the banana workflow against PostgreSQL
func TestEndToEnd_Postgres(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server, err := NewServer(database.FromPostgres(db), rules.DefaultEngineConfig(), 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(server)
	defer ts.Close()

	baseURL := ts.URL + "/api/v1"

	makeRequest(t, "POST", baseURL+"/rules", map[string]any{
		"applicationOrder": 1,
		"sourceColumn":     "text",
		"sourcePattern":    `banana(?P<n>\d+)`,
		"outputColumn":     "text",
		"outputPattern":    "Banana number=$n",
	})

	resp, err := makeHTTPRequest("POST", baseURL+"/rules", map[string]any{
		"applicationOrder": 1,
		"sourceColumn":     "text",
		"sourcePattern":    "x",
		"outputColumn":     "text",
		"outputPattern":    "y",
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 409 {
		t.Errorf("Expected 409 for duplicate order, got %d", resp.StatusCode)
	}

	makeRequest(t, "POST", baseURL+"/source-lines", map[string]any{
		"fields": map[string]string{"text": "banana123"},
	})

	runResp := makeRequest(t, "POST", baseURL+"/runs", nil)
	if runResp["transformed"] != float64(1) {
		t.Fatalf("Expected 1 transformed line, got %v", runResp["transformed"])
	}

	outputs := makeRequest(t, "GET", baseURL+"/output-lines", nil)["outputLines"].([]any)
	if len(outputs) != 1 {
		t.Fatalf("Expected 1 output line, got %d", len(outputs))
	}
	if text := outputs[0].(map[string]any)["fields"].(map[string]any)["text"]; text != "Banana number=123" {
		t.Errorf("Expected 'Banana number=123', got %v", text)
	}

	runResp = makeRequest(t, "POST", baseURL+"/runs", nil)
	if runResp["transformed"] != float64(0) {
		t.Errorf("Expected second run to transform nothing, got %v", runResp["transformed"])
	}
}
