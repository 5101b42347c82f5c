package superagent

import (
	"context"
	"strings"
	"testing"
)

func TestIntentClassify(t *testing.T) {
	provider := &fakeProvider{name: "fake", content: "```json\n" +
		`{"type": "code_edit", "confidence": 0.92, "parameters": {"file": "main.go"}, "reasoning": "mentions editing"}` +
		"\n```"}
	router := NewIntentRouter(provider, "fake-model")

	intent := router.Classify(context.Background(), "change the timeout in main.go")
	if intent.Type != IntentCodeEdit || intent.Confidence != 0.92 {
		t.Errorf("intent = %+v", intent)
	}
	if intent.Parameters["file"] != "main.go" {
		t.Errorf("parameters = %v", intent.Parameters)
	}
}

func TestIntentNormalizesUnknownType(t *testing.T) {
	provider := &fakeProvider{name: "fake", content: `{"type": "interpretive_dance", "confidence": 0.8}`}
	router := NewIntentRouter(provider, "fake-model")

	intent := router.Classify(context.Background(), "whatever")
	if intent.Type != IntentUnknown {
		t.Errorf("type = %q", intent.Type)
	}
}

func TestIntentClampsConfidence(t *testing.T) {
	provider := &fakeProvider{name: "fake", content: `{"type": "chat", "confidence": 3.5}`}
	router := NewIntentRouter(provider, "fake-model")

	intent := router.Classify(context.Background(), "hi")
	if intent.Confidence != 1.0 {
		t.Errorf("confidence = %v", intent.Confidence)
	}
}

func TestIntentProviderFailureDegrades(t *testing.T) {
	provider := failingProvider("dead")
	router := NewIntentRouter(provider, "fake-model")

	intent := router.Classify(context.Background(), "anything")
	if intent.Type != IntentUnknown || intent.Confidence != 0 {
		t.Errorf("intent = %+v", intent)
	}
	if !strings.HasPrefix(intent.Reasoning, "Classification error:") {
		t.Errorf("reasoning = %q", intent.Reasoning)
	}
}

func TestIntentParseFailureDegrades(t *testing.T) {
	provider := &fakeProvider{name: "fake", content: "sure, happy to help!"}
	router := NewIntentRouter(provider, "fake-model")

	intent := router.Classify(context.Background(), "anything")
	if intent.Type != IntentUnknown || intent.Confidence != 0 {
		t.Errorf("intent = %+v", intent)
	}
}
