// Package batch converts TS templates into JSONL batch-translation
// requests and applies returned results back onto the template.
//
// Export and apply share one selection algorithm (Plan), so both sides
// of a round trip derive the identical custom_id → sequence-index
// mapping from the same options without any state persisted in between.
package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/packet-tracer-i18n/tskit/tsfile"
)

// DefaultModel is the batch payload model used when none is configured.
const DefaultModel = "qwen-max"

// DefaultSystemPrompt is the system prompt for Packet Tracer UI strings.
const DefaultSystemPrompt = "你是思科 Packet Tracer 及网络工程领域的本地化专家，请将输入文本精准翻译为简体中文。" +
	"保持 HTML/XML 标签、富文本格式、占位符（例如 %1、%2、{0}、{name}、&lt;br&gt;、\\n 等）以及前后空白完全一致。" +
	"务必沿用业界常用的网络工程术语（如 VLAN、ACL、OSPF、Interface 等），CLI 命令、设备型号和寄存器名称不要翻译或改写，注意大小写和标点符号保持原样。"

// ---------------------------------------------------------------------------
// Context modes
// ---------------------------------------------------------------------------

// ContextMode controls how much contextual metadata each user prompt carries.
type ContextMode string

const (
	// ContextFull embeds every location reference and all comments.
	ContextFull ContextMode = "full"
	// ContextCompact keeps key metadata with concise phrasing and
	// truncates locations to MaxLocations.
	ContextCompact ContextMode = "compact"
	// ContextMinimal sends only the raw source text.
	ContextMinimal ContextMode = "minimal"
)

// ParseContextMode validates a context mode string.
func ParseContextMode(s string) (ContextMode, error) {
	switch ContextMode(s) {
	case ContextFull, ContextCompact, ContextMinimal:
		return ContextMode(s), nil
	}
	return "", fmt.Errorf("invalid context mode %q (valid: full, compact, minimal)", s)
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

// Options are the selection options that must match between export and
// apply for custom_id assignment to reproduce.
type Options struct {
	// StartIndex is the first ordinal assigned to a custom_id.
	StartIndex int
	// Deduplicate folds units with identical source text into one request.
	Deduplicate bool
	// IncludeFinished also selects units that already carry a final translation.
	IncludeFinished bool
	// MaxEntries caps the number of emitted request records (0 = no cap).
	MaxEntries int
}

// Selection is one planned request: a representative unit, its assigned
// custom_id, and every sequence index the resulting translation applies to.
type Selection struct {
	// CustomID is the stable request identifier ("request-N").
	CustomID string
	// Unit is the representative unit (first occurrence of its source text).
	Unit *tsfile.Unit
	// Indices are the sequence indices this translation applies to.
	// Longer than one only under deduplication.
	Indices []int
}

// CustomID formats the identifier for an export ordinal.
func CustomID(n int) string {
	return fmt.Sprintf("request-%d", n)
}

// Plan computes the export selection over a unit sequence. Units are
// visited in original order; finished units are skipped unless
// IncludeFinished is set; duplicate source texts fold into the first
// occurrence when Deduplicate is set. Identifiers are assigned
// monotonically from StartIndex in representative order, independent of
// any sequence indices skipped along the way.
func Plan(units []*tsfile.Unit, opts Options) []*Selection {
	var plan []*Selection
	bySource := make(map[string]*Selection)

	next := opts.StartIndex
	for _, u := range units {
		if !opts.IncludeFinished && u.Message.Finished() {
			continue
		}

		if opts.Deduplicate {
			if sel, ok := bySource[u.Message.Source]; ok {
				sel.Indices = append(sel.Indices, u.SequenceIndex)
				continue
			}
		}

		sel := &Selection{
			CustomID: CustomID(next),
			Unit:     u,
			Indices:  []int{u.SequenceIndex},
		}
		next++
		plan = append(plan, sel)
		if opts.Deduplicate {
			bySource[u.Message.Source] = sel
		}
	}

	if opts.MaxEntries > 0 && len(plan) > opts.MaxEntries {
		plan = plan[:opts.MaxEntries]
	}
	return plan
}

// ---------------------------------------------------------------------------
// Prompt rendering
// ---------------------------------------------------------------------------

// PromptOptions controls user prompt rendering.
type PromptOptions struct {
	Mode ContextMode
	// MaxLocations limits location references in compact mode
	// (0 omits locations entirely, negative means unlimited).
	MaxLocations int
}

const (
	compactHeader = "请翻译成简体中文，保持占位符、标签和前后空白。"
	fullHeader    = "请将下面的文本从英文准确翻译为简体中文，注意保持占位符、HTML/XML 标签、换行符及前后空白不变。"
)

// UserPrompt renders the user prompt for one unit.
func UserPrompt(u *tsfile.Unit, opts PromptOptions) string {
	m := u.Message

	if opts.Mode == ContextMinimal {
		return "Translate to Simplified Chinese, keep formatting.\nText: " + m.Source
	}

	header := fullHeader
	if opts.Mode == ContextCompact {
		header = compactHeader
	}
	sections := []string{header}

	if u.Context != "" {
		sections = append(sections, "Context: "+u.Context)
	}
	if c := strings.TrimSpace(m.Comment); c != "" {
		sections = append(sections, "Dev: "+c)
	}
	if c := strings.TrimSpace(m.ExtraComment); c != "" {
		sections = append(sections, "Extra: "+c)
	}
	if c := strings.TrimSpace(m.TranslatorComment); c != "" {
		sections = append(sections, "Note: "+c)
	}

	limit := opts.MaxLocations
	if opts.Mode == ContextFull {
		limit = -1 // full mode keeps every location
	}
	if blob := formatLocations(m.Locations, limit); blob != "" {
		label := "Loc"
		if opts.Mode == ContextFull {
			label = "Locations"
		}
		sections = append(sections, label+": "+blob)
	}

	sections = append(sections, "Text:", m.Source)
	return strings.Join(sections, "\n")
}

// formatLocations joins location references with " | ", truncating to
// limit entries with a "(+N more)" indicator. A limit of 0 omits
// locations; negative means unlimited.
func formatLocations(locs []tsfile.Location, limit int) string {
	if limit == 0 || len(locs) == 0 {
		return ""
	}

	var parts []string
	for _, l := range locs {
		if s := l.String(); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	if limit > 0 && len(parts) > limit {
		truncated := len(parts) - limit
		parts = append(parts[:limit], fmt.Sprintf("(+%d more)", truncated))
	}
	return strings.Join(parts, " | ")
}

// ---------------------------------------------------------------------------
// Request records
// ---------------------------------------------------------------------------

// ChatMessage is one message in an OpenAI-style chat payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestBody is the chat-completions body of a batch request.
type RequestBody struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// RequestRecord is one line of the exported requests JSONL file,
// shaped for the bulk chat-completions batch endpoint.
type RequestRecord struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     RequestBody `json:"body"`
}

// BuildRequest renders one selection into a request record.
func BuildRequest(sel *Selection, model, systemPrompt string, popts PromptOptions) RequestRecord {
	return RequestRecord{
		CustomID: sel.CustomID,
		Method:   "POST",
		URL:      "/v1/chat/completions",
		Body: RequestBody{
			Model: model,
			Messages: []ChatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: UserPrompt(sel.Unit, popts)},
			},
		},
	}
}

// WriteRequests writes request records as JSONL, one object per line.
// HTML escaping is disabled so CJK text and markup stay readable.
func WriteRequests(w io.Writer, records []RequestRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding request %s: %w", rec.CustomID, err)
		}
	}
	return nil
}
