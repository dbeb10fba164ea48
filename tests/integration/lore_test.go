package integration

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AvraamMavridis/lore/internal/config"
	"github.com/AvraamMavridis/lore/internal/merge"
	"github.com/AvraamMavridis/lore/internal/query"
	"github.com/AvraamMavridis/lore/internal/store"
	"github.com/AvraamMavridis/lore/tests/integration/testkit"
)

// ========================================
// MCP Protocol Tests
// ========================================

func TestMCPServer_ToolsRegistered(t *testing.T) {
	_, session := startEnv(t, nil)

	res, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"lore_record", "lore_explain", "lore_search", "lore_list", "lore_status"} {
		if !slices.Contains(names, want) {
			t.Errorf("Expected tool %q to be registered, got %v", want, names)
		}
	}
}

func TestMCPServer_RecordThenQuery(t *testing.T) {
	_, session := startEnv(t, map[string]string{
		"src/auth.go":  "package auth",
		"src/token.go": "package auth",
	})

	recorded := callTool(t, session, "lore_record", map[string]any{
		"files":      []string{"src/auth.go", "src/token.go"},
		"intent":     "Implement JWT authentication",
		"trace":      "Stateless tokens scale horizontally.",
		"agent":      "claude",
		"tags":       []string{"auth"},
		"line_range": "10-45",
		"alternatives": []map[string]any{
			{"name": "Sessions", "reason": "needs sticky state"},
		},
	})
	if !strings.Contains(recorded, "Recorded") {
		t.Fatalf("Unexpected record output: %s", recorded)
	}

	explained := callTool(t, session, "lore_explain", map[string]any{"path": "src/token.go"})
	for _, want := range []string{"Implement JWT authentication", "Sessions: needs sticky state", "(lines 10-45)"} {
		if !strings.Contains(explained, want) {
			t.Errorf("explain output missing %q:\n%s", want, explained)
		}
	}

	found := callTool(t, session, "lore_search", map[string]any{"query": "jwt"})
	if !strings.Contains(found, "Implement JWT authentication") {
		t.Errorf("Expected search to find the entry:\n%s", found)
	}

	ranked := callTool(t, session, "lore_search", map[string]any{"query": "sticky", "ranked": true})
	if !strings.Contains(ranked, "Implement JWT authentication") {
		t.Errorf("Expected ranked search to match the rejection reason:\n%s", ranked)
	}

	listed := callTool(t, session, "lore_list", map[string]any{})
	if strings.Count(listed, "Implement JWT authentication") != 1 {
		t.Errorf("Expected exactly one listed entry:\n%s", listed)
	}

	status := callTool(t, session, "lore_status", map[string]any{})
	if !strings.Contains(status, "Reasoning status") {
		t.Errorf("Unexpected status output:\n%s", status)
	}
}

func TestMCPServer_ExplainUntrackedFile(t *testing.T) {
	_, session := startEnv(t, nil)

	text := callTool(t, session, "lore_explain", map[string]any{"path": "nowhere.go"})
	if !strings.Contains(text, "No reasoning recorded for nowhere.go") {
		t.Errorf("Unexpected output: %s", text)
	}
}

func TestMCPServer_RecordMissingFileIsError(t *testing.T) {
	_, session := startEnv(t, nil)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "lore_record",
		Arguments: map[string]any{"files": []string{"ghost.go"}, "intent": "x"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !res.IsError {
		t.Fatal("Expected an error result")
	}
	if text := extractTextContent(res); !strings.Contains(text, "ghost.go") {
		t.Errorf("Expected error to name the file, got: %s", text)
	}
}

// ========================================
// Store Concurrency Tests
// ========================================

func TestStore_ConcurrentWritersKeepEveryMembership(t *testing.T) {
	const writers = 8
	files := make(map[string]string, writers)
	for i := range writers {
		files[fmt.Sprintf("f%d.txt", i)] = "content"
	}
	repo, _ := startEnv(t, files)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Record(context.Background(), store.RecordRequest{
				Files:  []string{fmt.Sprintf("f%d.txt", i), "f0.txt"},
				Intent: fmt.Sprintf("writer %d", i),
			}, nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Record failed: %v", err)
		}
	}

	x, err := repo.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex failed: %v", err)
	}
	if got := len(x.Lookup("f0.txt")); got != writers {
		t.Errorf("Expected %d entries on the shared file, got %d", writers, got)
	}

	res, err := query.New(repo, nil).List(query.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Entries) != writers || res.Skipped != 0 {
		t.Errorf("Expected %d readable entries, got %d (skipped %d)", writers, len(res.Entries), res.Skipped)
	}
}

func TestStore_DivergedIndexesMergeAndRepair(t *testing.T) {
	repo, _ := startEnv(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	ctx := context.Background()

	base, err := repo.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex failed: %v", err)
	}

	first, err := repo.Record(ctx, store.RecordRequest{Files: []string{"a.txt"}, Intent: "local"}, nil)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	local, _ := repo.LoadIndex()

	// The incoming side recorded b.txt on top of the same base.
	if err := repo.SaveIndex(base); err != nil {
		t.Fatalf("SaveIndex failed: %v", err)
	}
	second, err := repo.Record(ctx, store.RecordRequest{Files: []string{"b.txt"}, Intent: "incoming"}, nil)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	incoming, _ := repo.LoadIndex()

	merged, stats := merge.Reconcile(base, local, incoming)
	if stats.MergedMemberships != 2 {
		t.Errorf("Expected 2 merged memberships, got %d", stats.MergedMemberships)
	}
	if !merged.Contains(local) || !merged.Contains(incoming) {
		t.Error("Expected the merge to contain both sides")
	}

	// Losing the merged index entirely is recoverable from the entries.
	if err := repo.SaveIndex(base); err != nil {
		t.Fatalf("SaveIndex failed: %v", err)
	}
	rep, err := repo.Repair(ctx)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if rep.Added != 2 {
		t.Errorf("Expected repair to re-attach 2 memberships, got %d", rep.Added)
	}
	x, _ := repo.LoadIndex()
	if !x.Equal(merged) {
		t.Errorf("Expected repaired index to equal the merge result")
	}
	for _, id := range []string{first.Entry.ID, second.Entry.ID} {
		if !slices.Contains(x.IDs(), id) {
			t.Errorf("Expected %s in the repaired index", id)
		}
	}
}

// ========================================
// Configuration Tests
// ========================================

func TestSettings_FromTestFlags(t *testing.T) {
	flags := testkit.NewTestFlags(t, &testkit.FlagOptions{Root: "/srv/repo", Format: config.FormatJSON})

	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		t.Fatalf("LoadSettingsWithFlags failed: %v", err)
	}
	if err := config.ValidateSettings(settings); err != nil {
		t.Fatalf("ValidateSettings failed: %v", err)
	}
	if settings.Root != "/srv/repo" || settings.Format != config.FormatJSON {
		t.Errorf("Unexpected settings: %+v", settings)
	}
}

// ========================================
// Helper Functions
// ========================================

// startEnv starts a repository seeded with files and an MCP session on it.
func startEnv(t *testing.T, files map[string]string) (*store.Repository, *mcp.ClientSession) {
	t.Helper()
	repoSvc := testkit.NewRepoService(files, "integration")
	mcpSvc := testkit.NewMCPService(repoSvc)
	testkit.MustStart(t, testkit.NewTestEnv(repoSvc, mcpSvc))
	return repoSvc.Repo(), mcpSvc.Session()
}

// callTool invokes a tool and fails the test on protocol or tool errors.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s failed: %v", name, err)
	}
	text := extractTextContent(res)
	if res.IsError {
		t.Fatalf("Tool %s returned an error: %s", name, text)
	}
	return text
}

// extractTextContent extracts text from MCP result
func extractTextContent(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
