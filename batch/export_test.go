package batch

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/packet-tracer-i18n/tskit/tsfile"
)

// unfinishedUnits builds a unit sequence where every source is unfinished.
func unfinishedUnits(sources ...string) []*tsfile.Unit {
	units := make([]*tsfile.Unit, len(sources))
	for i, s := range sources {
		units[i] = &tsfile.Unit{
			SequenceIndex: i,
			Context:       "MainWindow",
			Message: &tsfile.Message{
				Source:          s,
				TranslationType: "unfinished",
				HasTranslation:  true,
			},
		}
	}
	return units
}

func planIDs(plan []*Selection) []string {
	ids := make([]string, len(plan))
	for i, sel := range plan {
		ids[i] = sel.CustomID
	}
	return ids
}

func TestPlanDeduplication(t *testing.T) {
	units := unfinishedUnits("Save", "Open", "Save")
	plan := Plan(units, Options{StartIndex: 1, Deduplicate: true})

	if got, want := planIDs(plan), []string{"request-1", "request-2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	if got, want := plan[0].Indices, []int{0, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("request-1 indices = %v, want %v", got, want)
	}
	if got, want := plan[1].Indices, []int{1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("request-2 indices = %v, want %v", got, want)
	}
}

func TestPlanWithoutDeduplication(t *testing.T) {
	units := unfinishedUnits("Save", "Open", "Save")
	plan := Plan(units, Options{StartIndex: 1})

	if got, want := planIDs(plan), []string{"request-1", "request-2", "request-3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i, sel := range plan {
		if got, want := sel.Indices, []int{i}; !reflect.DeepEqual(got, want) {
			t.Fatalf("plan[%d].Indices = %v, want %v", i, got, want)
		}
	}
}

func TestPlanSkipsFinished(t *testing.T) {
	units := unfinishedUnits("Save", "Open", "Close")
	units[1].Message.SetTranslation("打开")

	plan := Plan(units, Options{StartIndex: 1})
	if got, want := planIDs(plan), []string{"request-1", "request-2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v (gapless despite skipped unit)", got, want)
	}
	if plan[1].Unit.Message.Source != "Close" {
		t.Fatalf("request-2 source = %q, want Close", plan[1].Unit.Message.Source)
	}

	// IncludeFinished selects everything
	plan = Plan(units, Options{StartIndex: 1, IncludeFinished: true})
	if len(plan) != 3 {
		t.Fatalf("len(plan) = %d with IncludeFinished, want 3", len(plan))
	}
}

func TestPlanStartIndex(t *testing.T) {
	units := unfinishedUnits("Save", "Open")
	plan := Plan(units, Options{StartIndex: 100})

	if got, want := planIDs(plan), []string{"request-100", "request-101"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
}

func TestPlanMaxEntries(t *testing.T) {
	units := unfinishedUnits("a", "b", "c", "d", "a")
	plan := Plan(units, Options{StartIndex: 1, Deduplicate: true, MaxEntries: 2})

	if got, want := planIDs(plan), []string{"request-1", "request-2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
}

func TestPlanDeterministic(t *testing.T) {
	units := unfinishedUnits("Save", "Open", "Save", "Close")
	opts := Options{StartIndex: 1, Deduplicate: true}

	first := Plan(units, opts)
	second := Plan(units, opts)

	if !reflect.DeepEqual(planIDs(first), planIDs(second)) {
		t.Fatalf("plan not deterministic: %v vs %v", planIDs(first), planIDs(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i].Indices, second[i].Indices) {
			t.Fatalf("indices differ at %d: %v vs %v", i, first[i].Indices, second[i].Indices)
		}
	}
}

func TestParseContextMode(t *testing.T) {
	for _, valid := range []string{"full", "compact", "minimal"} {
		if _, err := ParseContextMode(valid); err != nil {
			t.Fatalf("ParseContextMode(%q) error: %v", valid, err)
		}
	}
	if _, err := ParseContextMode("verbose"); err == nil {
		t.Fatalf("ParseContextMode(verbose) succeeded, want error")
	}
}

func TestUserPromptModes(t *testing.T) {
	unit := &tsfile.Unit{
		Context: "MainWindow",
		Message: &tsfile.Message{
			Source:       "Save",
			Comment:      "toolbar button",
			ExtraComment: "keep short",
			Locations: []tsfile.Location{
				{Filename: "a.cpp", Line: "1"},
				{Filename: "b.cpp", Line: "2"},
				{Filename: "c.cpp", Line: "3"},
				{Filename: "d.cpp", Line: "4"},
			},
		},
	}

	t.Run("minimal is source only", func(t *testing.T) {
		got := UserPrompt(unit, PromptOptions{Mode: ContextMinimal})
		want := "Translate to Simplified Chinese, keep formatting.\nText: Save"
		if got != want {
			t.Fatalf("minimal prompt = %q, want %q", got, want)
		}
	})

	t.Run("compact truncates locations", func(t *testing.T) {
		got := UserPrompt(unit, PromptOptions{Mode: ContextCompact, MaxLocations: 2})
		if !strings.Contains(got, "a.cpp:1 | b.cpp:2 | (+2 more)") {
			t.Fatalf("compact prompt missing truncated locations:\n%s", got)
		}
		if !strings.Contains(got, "Context: MainWindow") || !strings.Contains(got, "Dev: toolbar button") {
			t.Fatalf("compact prompt missing metadata:\n%s", got)
		}
	})

	t.Run("full keeps every location", func(t *testing.T) {
		got := UserPrompt(unit, PromptOptions{Mode: ContextFull, MaxLocations: 2})
		if strings.Contains(got, "more)") {
			t.Fatalf("full prompt truncated locations:\n%s", got)
		}
		for _, loc := range []string{"a.cpp:1", "b.cpp:2", "c.cpp:3", "d.cpp:4"} {
			if !strings.Contains(got, loc) {
				t.Fatalf("full prompt missing %s:\n%s", loc, got)
			}
		}
	})

	t.Run("zero max locations omits them", func(t *testing.T) {
		got := UserPrompt(unit, PromptOptions{Mode: ContextCompact, MaxLocations: 0})
		if strings.Contains(got, "a.cpp") {
			t.Fatalf("prompt should omit locations:\n%s", got)
		}
	})
}

func TestBuildRequestShape(t *testing.T) {
	units := unfinishedUnits("Save")
	plan := Plan(units, Options{StartIndex: 1})
	rec := BuildRequest(plan[0], "qwen-max", "sys", PromptOptions{Mode: ContextMinimal})

	if rec.CustomID != "request-1" {
		t.Fatalf("custom_id = %q, want request-1", rec.CustomID)
	}
	if rec.Method != "POST" || rec.URL != "/v1/chat/completions" {
		t.Fatalf("method/url = %q %q", rec.Method, rec.URL)
	}
	if rec.Body.Model != "qwen-max" {
		t.Fatalf("model = %q", rec.Body.Model)
	}
	if len(rec.Body.Messages) != 2 || rec.Body.Messages[0].Role != "system" || rec.Body.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v, want system then user", rec.Body.Messages)
	}
}

func TestWriteRequestsJSONL(t *testing.T) {
	units := unfinishedUnits("Save", "<b>Open</b>")
	plan := Plan(units, Options{StartIndex: 1})

	records := make([]RequestRecord, 0, len(plan))
	for _, sel := range plan {
		records = append(records, BuildRequest(sel, DefaultModel, DefaultSystemPrompt, PromptOptions{Mode: ContextMinimal}))
	}

	var buf bytes.Buffer
	if err := WriteRequests(&buf, records); err != nil {
		t.Fatalf("WriteRequests() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}

	// HTML escaping is off: markup stays readable
	if !strings.Contains(lines[1], "<b>Open</b>") {
		t.Fatalf("line 2 escaped markup: %s", lines[1])
	}

	for i, line := range lines {
		var rec RequestRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d not valid JSON: %v", i+1, err)
		}
		if rec.CustomID != CustomID(i+1) {
			t.Fatalf("line %d custom_id = %q, want %q", i+1, rec.CustomID, CustomID(i+1))
		}
	}
}
