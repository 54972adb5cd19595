package batch

import (
	"errors"
	"strings"
	"testing"
)

func TestReadResultsNativeFormat(t *testing.T) {
	const jsonl = `{"custom_id":"request-1","translated_text":"保存","status":"ok"}
{"custom_id":"request-2","translated_text":"打开"}
`
	records, recErrs, err := ReadResults(strings.NewReader(jsonl))
	if err != nil {
		t.Fatalf("ReadResults() error: %v", err)
	}
	if len(recErrs) != 0 {
		t.Fatalf("record errors = %v, want none", recErrs)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].TranslatedText != "保存" || !records[0].Succeeded() {
		t.Fatalf("records[0] = %+v", records[0])
	}
	// Missing status counts as success
	if !records[1].Succeeded() {
		t.Fatalf("records[1].Succeeded() = false, want true")
	}
}

func TestReadResultsBatchAPIFallback(t *testing.T) {
	const jsonl = `{"custom_id":"request-1","response":{"body":{"choices":[{"message":{"content":"保存"}}]}},"error":null}
{"custom_id":"request-2","response":{"body":{"choices":[]}},"error":{"code":"server_error"}}
`
	records, recErrs, err := ReadResults(strings.NewReader(jsonl))
	if err != nil {
		t.Fatalf("ReadResults() error: %v", err)
	}
	if len(recErrs) != 0 {
		t.Fatalf("record errors = %v, want none", recErrs)
	}
	if records[0].TranslatedText != "保存" || !records[0].Succeeded() {
		t.Fatalf("records[0] = %+v", records[0])
	}
	if records[1].Succeeded() {
		t.Fatalf("records[1].Succeeded() = true for errored record")
	}
}

func TestReadResultsMalformedLines(t *testing.T) {
	const jsonl = `{"custom_id":"request-1","translated_text":"保存"}
not json at all
{"translated_text":"missing id"}
{"custom_id":"request-1","translated_text":"duplicate"}
{"custom_id":"request-2"}

{"custom_id":"request-3","translated_text":"好"}
`
	records, recErrs, err := ReadResults(strings.NewReader(jsonl))
	if err != nil {
		t.Fatalf("ReadResults() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2 (request-1, request-3)", len(records))
	}
	if len(recErrs) != 4 {
		t.Fatalf("len(recErrs) = %d, want 4: %v", len(recErrs), recErrs)
	}

	wantReasons := []string{"invalid JSON", "missing custom_id", "duplicate custom_id", "missing translated_text"}
	for i, want := range wantReasons {
		if !strings.Contains(recErrs[i].Reason, want) {
			t.Fatalf("recErrs[%d].Reason = %q, want contains %q", i, recErrs[i].Reason, want)
		}
	}
	if recErrs[0].Line != 2 {
		t.Fatalf("recErrs[0].Line = %d, want 2", recErrs[0].Line)
	}
}

func TestExtractTranslatedText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "保存", "保存"},
		{"echoed prompt", "请翻译。\nText:\n保存", "保存"},
		{"crlf marker", "header\r\nText:\r\n保存", "保存"},
		{"no marker kept whole", "Text without marker", "Text without marker"},
	}

	for _, tc := range tests {
		if got := ExtractTranslatedText(tc.in); got != tc.want {
			t.Fatalf("%s: ExtractTranslatedText(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestApplyRoundTrip(t *testing.T) {
	units := unfinishedUnits("Save", "Open", "Save")
	opts := Options{StartIndex: 1, Deduplicate: true}

	results := []ResultRecord{
		{CustomID: "request-1", TranslatedText: "保存", Status: StatusOK},
		{CustomID: "request-2", TranslatedText: "打开", Status: StatusOK},
	}

	sum, err := Apply(units, results, nil, opts, true)
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if sum.Updated != 3 {
		t.Fatalf("Updated = %d, want 3 (dedup fans out)", sum.Updated)
	}

	want := []string{"保存", "打开", "保存"}
	for i, u := range units {
		if u.Message.Translation != want[i] {
			t.Fatalf("units[%d].Translation = %q, want %q", i, u.Message.Translation, want[i])
		}
		if !u.Message.Finished() {
			t.Fatalf("units[%d] still unfinished", i)
		}
	}
}

func TestApplyStrictIdentityMismatch(t *testing.T) {
	units := unfinishedUnits("Save", "Open")
	opts := Options{StartIndex: 1}

	t.Run("missing id", func(t *testing.T) {
		results := []ResultRecord{{CustomID: "request-1", TranslatedText: "保存"}}
		_, err := Apply(unfinishedUnits("Save", "Open"), results, nil, opts, true)
		var mismatch *IdentityMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("error = %v, want *IdentityMismatchError", err)
		}
		if len(mismatch.Missing) != 1 || mismatch.Missing[0] != "request-2" {
			t.Fatalf("Missing = %v, want [request-2]", mismatch.Missing)
		}
	})

	t.Run("extra id", func(t *testing.T) {
		results := []ResultRecord{
			{CustomID: "request-1", TranslatedText: "保存"},
			{CustomID: "request-2", TranslatedText: "打开"},
			{CustomID: "request-9", TranslatedText: "幽灵"},
		}
		_, err := Apply(unfinishedUnits("Save", "Open"), results, nil, opts, true)
		var mismatch *IdentityMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("error = %v, want *IdentityMismatchError", err)
		}
		if len(mismatch.Extra) != 1 || mismatch.Extra[0] != "request-9" {
			t.Fatalf("Extra = %v, want [request-9]", mismatch.Extra)
		}
	})

	t.Run("no mutation on rejection", func(t *testing.T) {
		results := []ResultRecord{{CustomID: "request-1", TranslatedText: "保存"}}
		if _, err := Apply(units, results, nil, opts, true); err == nil {
			t.Fatalf("Apply() succeeded, want mismatch error")
		}
		for i, u := range units {
			if u.Message.Translation != "" {
				t.Fatalf("units[%d] mutated on rejected import: %q", i, u.Message.Translation)
			}
		}
	})
}

func TestApplyStrictRejectsMalformed(t *testing.T) {
	units := unfinishedUnits("Save")
	results := []ResultRecord{{CustomID: "request-1", TranslatedText: "保存"}}
	recErrs := []*RecordError{{Line: 2, Reason: "invalid JSON"}}

	if _, err := Apply(units, results, recErrs, Options{StartIndex: 1}, true); err == nil {
		t.Fatalf("strict Apply() tolerated malformed records")
	}

	// Lenient mode counts them instead
	sum, err := Apply(units, results, recErrs, Options{StartIndex: 1}, false)
	if err != nil {
		t.Fatalf("lenient Apply() error: %v", err)
	}
	if sum.Malformed != 1 || sum.Updated != 1 {
		t.Fatalf("summary = %+v, want Malformed 1, Updated 1", sum)
	}
}

func TestApplyLenientCounting(t *testing.T) {
	units := unfinishedUnits("Save", "Open", "Close")
	units[2].Message.SetTranslation("关闭") // finished before apply

	// Plan over the original selection (request-3 covered Close when it
	// was still unfinished at export time).
	plan := []*Selection{
		{CustomID: "request-1", Unit: units[0], Indices: []int{0}},
		{CustomID: "request-2", Unit: units[1], Indices: []int{1}},
		{CustomID: "request-3", Unit: units[2], Indices: []int{2}},
	}

	results := []ResultRecord{
		{CustomID: "request-1", TranslatedText: "保存", Status: StatusOK},
		{CustomID: "request-2", Status: "failed"},
		{CustomID: "request-3", TranslatedText: "重新关闭", Status: StatusOK},
		{CustomID: "request-99", TranslatedText: "孤儿", Status: StatusOK},
	}

	sum, err := ApplyPlan(units, plan, results, nil, false, false)
	if err != nil {
		t.Fatalf("ApplyPlan() error: %v", err)
	}

	if sum.Updated != 1 {
		t.Fatalf("Updated = %d, want 1", sum.Updated)
	}
	if sum.Failed != 1 || len(sum.FailedIDs) != 1 || sum.FailedIDs[0] != "request-2" {
		t.Fatalf("Failed = %d (%v), want 1 [request-2]", sum.Failed, sum.FailedIDs)
	}
	if sum.Unmatched != 1 {
		t.Fatalf("Unmatched = %d, want 1", sum.Unmatched)
	}
	if sum.SkippedFinished != 1 {
		t.Fatalf("SkippedFinished = %d, want 1", sum.SkippedFinished)
	}

	// The finished unit kept its original translation
	if units[2].Message.Translation != "关闭" {
		t.Fatalf("finished unit overwritten: %q", units[2].Message.Translation)
	}
	// The failed unit stayed unfinished
	if units[1].Message.Finished() {
		t.Fatalf("failed unit marked finished")
	}
}

func TestApplyIncludeFinishedOverwrites(t *testing.T) {
	units := unfinishedUnits("Save")
	units[0].Message.SetTranslation("旧译")

	plan := []*Selection{{CustomID: "request-1", Unit: units[0], Indices: []int{0}}}
	results := []ResultRecord{{CustomID: "request-1", TranslatedText: "新译", Status: StatusOK}}

	sum, err := ApplyPlan(units, plan, results, nil, true, false)
	if err != nil {
		t.Fatalf("ApplyPlan() error: %v", err)
	}
	if sum.Updated != 1 || units[0].Message.Translation != "新译" {
		t.Fatalf("overwrite failed: %+v, translation %q", sum, units[0].Message.Translation)
	}
}
