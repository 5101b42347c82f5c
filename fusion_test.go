package superagent

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestFuseComposesNodes(t *testing.T) {
	f := NewContextFusion(nil)
	plan := &Plan{TaskID: "task-1", Reasoning: "two step plan", Steps: []Step{{ID: "s1"}, {ID: "s2"}}}

	uc, err := f.Fuse(context.Background(), FusionInput{
		SessionID:   "sess",
		Query:       "deploy",
		History:     []Message{UserMessage("ship it"), AssistantMessage("deploying")},
		ActiveFiles: []string{"main.go"},
		ActiveTools: []string{"write_file"},
		CurrentPlan: plan,
	})
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}

	// 2 conversation + 1 file + 1 plan node; no memory engine attached.
	if len(uc.Nodes) != 4 {
		t.Fatalf("nodes = %d: %+v", len(uc.Nodes), uc.Nodes)
	}
	if uc.Nodes[0].Type != NodeConversation || uc.Nodes[0].RelevanceScore != 1.0 {
		t.Errorf("first conv node = %+v", uc.Nodes[0])
	}
	if uc.Nodes[1].RelevanceScore != 0.9 {
		t.Errorf("second conv node relevance = %v", uc.Nodes[1].RelevanceScore)
	}
	fileNode := uc.Nodes[2]
	if fileNode.Type != NodeFile || fileNode.RelevanceScore != 0.8 || fileNode.Content != "main.go" {
		t.Errorf("file node = %+v", fileNode)
	}
	planNode := uc.Nodes[3]
	if planNode.Type != NodePlan || planNode.Content != "two step plan" || planNode.RelevanceScore != 1.0 {
		t.Errorf("plan node = %+v", planNode)
	}
}

func TestFuseTrimsHistory(t *testing.T) {
	f := NewContextFusion(nil)
	var history []Message
	for i := 0; i < 15; i++ {
		history = append(history, UserMessage(fmt.Sprintf("message %d", i)))
	}

	uc, _ := f.Fuse(context.Background(), FusionInput{SessionID: "s", History: history})
	if len(uc.Nodes) != 10 {
		t.Fatalf("nodes = %d, want last 10 messages", len(uc.Nodes))
	}
	if uc.Nodes[0].Content != "message 5" {
		t.Errorf("first node = %q", uc.Nodes[0].Content)
	}
}

func TestFuseWithMemory(t *testing.T) {
	store := newFakeVectorStore()
	mem := NewAdaptiveMemory(store, &fakeEmbedder{})
	mem.Add(context.Background(), MemoryItem{Content: "rollout uses blue green deploys", Type: MemoryWorking})

	f := NewContextFusion(mem)
	uc, err := f.Fuse(context.Background(), FusionInput{SessionID: "s", Query: "rollout deploys"})
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	var memNodes int
	for _, n := range uc.Nodes {
		if n.Type == NodeMemory {
			memNodes++
		}
	}
	if memNodes == 0 {
		t.Error("no memory nodes fused")
	}
}

func TestFusionCache(t *testing.T) {
	f := NewContextFusion(nil)
	ctx := context.Background()
	f.Fuse(ctx, FusionInput{SessionID: "a"})
	f.Fuse(ctx, FusionInput{SessionID: "b"})

	if f.CachedContext("a") == nil || f.CachedContext("b") == nil {
		t.Fatal("contexts not cached")
	}
	f.ClearCache("a")
	if f.CachedContext("a") != nil {
		t.Error("cleared context still cached")
	}
	if f.CachedContext("b") == nil {
		t.Error("unrelated context dropped")
	}
	f.ClearCache("")
	if f.CachedContext("b") != nil {
		t.Error("ClearCache(\"\") should drop everything")
	}
}

func TestUnifiedContextSummaryAndRender(t *testing.T) {
	f := NewContextFusion(nil)
	uc, _ := f.Fuse(context.Background(), FusionInput{
		SessionID:   "s",
		History:     []Message{UserMessage("hello there")},
		ActiveFiles: []string{"a.go"},
	})

	summary := uc.Summary()
	if !strings.Contains(summary, "Conversation: 1 messages") || !strings.Contains(summary, "Files: a.go") {
		t.Errorf("summary = %q", summary)
	}

	rendered := uc.Render()
	if !strings.Contains(rendered, "[conversation] hello there") || !strings.Contains(rendered, "[file] a.go") {
		t.Errorf("render = %q", rendered)
	}

	empty := &UnifiedContext{}
	if empty.Summary() != "Empty context" {
		t.Errorf("empty summary = %q", empty.Summary())
	}
}
