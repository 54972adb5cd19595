// Package translate implements direct streaming translation of
// unfinished template units against an OpenAI-compatible chat
// endpoint. Each unit is translated and written back one at a time,
// with a checkpoint file and periodic template saves so an interrupted
// run resumes where it stopped.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/packet-tracer-i18n/tskit/batch"
	"github.com/packet-tracer-i18n/tskit/checkpoint"
	"github.com/packet-tracer-i18n/tskit/tsfile"
)

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for the chat endpoint.
type Provider struct {
	// BaseURL is the API base URL (e.g. "https://api.example.com/v1").
	BaseURL string
	// APIKey is the bearer token (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
}

func (p Provider) effectiveTimeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 120 * time.Second
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls the translation run.
type Options struct {
	// Provider is the endpoint configuration.
	Provider Provider
	// SystemPrompt overrides the default system prompt.
	SystemPrompt string
	// Prompt controls user prompt rendering (context mode, locations).
	Prompt batch.PromptOptions
	// MaxRetries is the maximum number of retries on rate limit (429). Default: 3.
	MaxRetries int
	// BackupInterval is how many translated units between template
	// saves. Default: 10.
	BackupInterval int
	// Limit stops after translating this many units (0 = no limit).
	Limit int
	// OnProgress is called after each unit is translated.
	OnProgress func(done, total int)
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// OnError emits error messages during translation.
	OnError func(format string, args ...any)
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o *Options) effectiveBackupInterval() int {
	if o.BackupInterval > 0 {
		return o.BackupInterval
	}
	return 10
}

func (o *Options) resolvedSystemPrompt() string {
	if o.SystemPrompt != "" {
		return o.SystemPrompt
	}
	return batch.DefaultSystemPrompt
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// Report summarizes a translation run.
type Report struct {
	// Translated is the number of units translated in this run.
	Translated int
	// Resumed is the number of unfinished units skipped because the
	// checkpoint already recorded them.
	Resumed int
	// Failed is the number of units whose API call failed.
	Failed int
}

// Run translates every unfinished unit of the template in place,
// saving the template to outPath every BackupInterval units and on
// every exit, including cancellation. The checkpoint beside outPath
// records processed unit keys and is cleared only after a clean,
// complete run.
func Run(ctx context.Context, f *tsfile.File, outPath string, opts Options) (*Report, error) {
	cp, err := checkpoint.Load(outPath)
	if err != nil {
		return nil, err
	}

	var pending []*tsfile.Unit
	for _, u := range f.Units() {
		if u.Message.Finished() {
			continue
		}
		pending = append(pending, u)
	}

	rep := &Report{}
	total := len(pending)
	done := 0
	sinceBackup := 0

	var runErr error
	for _, u := range pending {
		if runErr = ctx.Err(); runErr != nil {
			break
		}

		if cp.Done(u.Key()) {
			rep.Resumed++
			done++
			continue
		}
		if opts.Limit > 0 && rep.Translated >= opts.Limit {
			break
		}

		userPrompt := batch.UserPrompt(u, opts.Prompt)
		text, err := callChat(ctx, opts.Provider, opts.resolvedSystemPrompt(), userPrompt, opts.effectiveMaxRetries(), opts.log)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			rep.Failed++
			opts.logError("unit %d (%s): %v", u.SequenceIndex, u.Context, err)
			continue
		}

		u.Message.SetTranslation(batch.ExtractTranslatedText(text))
		cp.Mark(u.Key())
		rep.Translated++
		done++
		sinceBackup++

		if opts.OnProgress != nil {
			opts.OnProgress(done, total)
		}

		if err := cp.Save(); err != nil {
			opts.logError("saving checkpoint: %v", err)
		}
		if sinceBackup >= opts.effectiveBackupInterval() {
			if err := f.WriteFile(outPath); err != nil {
				opts.logError("saving template backup: %v", err)
			}
			sinceBackup = 0
		}
	}

	// The checkpoint marks each unit as soon as it is translated, so the
	// template must reach disk on every exit, cancellation included, or a
	// resumed run would skip units whose translations were never saved.
	if err := f.WriteFile(outPath); err != nil {
		return rep, fmt.Errorf("writing %s: %w", outPath, err)
	}
	if runErr == nil && rep.Failed == 0 && (opts.Limit == 0 || rep.Translated < opts.Limit) {
		if err := cp.Clear(); err != nil {
			opts.logError("clearing checkpoint: %v", err)
		}
	} else if err := cp.Save(); err != nil {
		opts.logError("saving checkpoint: %v", err)
	}

	return rep, runErr
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func buildChatRequest(model, systemPrompt, userPrompt string) ([]byte, error) {
	req := struct {
		Model       string              `json:"model"`
		Messages    []batch.ChatMessage `json:"messages"`
		Temperature float64             `json:"temperature"`
		Stream      bool                `json:"stream"`
	}{
		Model: model,
		Messages: []batch.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
		Stream:      false,
	}
	return json.Marshal(req)
}

// extractResponseText pulls choices[0].message.content out of a chat
// completion response, surfacing API errors as errors.
func extractResponseText(body []byte) (string, error) {
	var raw struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	if raw.Error != nil {
		return "", fmt.Errorf("API error: %s", raw.Error.Message)
	}
	if len(raw.Choices) == 0 || raw.Choices[0].Message.Content == nil {
		return "", fmt.Errorf("no translation content in response: %s", truncate(string(body), 500))
	}
	return *raw.Choices[0].Message.Content, nil
}

// parseRetryDelay picks the wait before retrying a 429: the
// Retry-After header when present, else 65 seconds.
func parseRetryDelay(resp *http.Response) time.Duration {
	const defaultDelay = 65 * time.Second

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
		}
	}
	return defaultDelay
}

// callChat sends one chat completion request with retries on transport
// errors, 5xx, and rate limits.
func callChat(ctx context.Context, prov Provider, systemPrompt, userPrompt string, maxRetries int, logf func(string, ...any)) (string, error) {
	baseURL := strings.TrimRight(prov.BaseURL, "/")
	endpoint := baseURL
	if !strings.HasSuffix(baseURL, "/chat/completions") {
		endpoint = baseURL + "/chat/completions"
	}

	body, err := buildChatRequest(prov.Model, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	client := makeHTTPClient(prov.Proxy, prov.effectiveTimeout())

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if prov.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+prov.APIKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			if attempt < maxRetries {
				wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			return "", fmt.Errorf("API request failed: %w", err)
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryDelay := parseRetryDelay(resp)
			if logf != nil {
				logf("rate limited, waiting %v before retry (attempt %d/%d)", retryDelay, attempt+1, maxRetries)
			}
			if attempt < maxRetries {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(retryDelay):
				}
				continue
			}
			return "", fmt.Errorf("rate limited after %d retries", maxRetries)
		}

		if resp.StatusCode != http.StatusOK {
			if attempt < maxRetries && resp.StatusCode >= 500 {
				wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
		}

		return extractResponseText(respBody)
	}

	return "", fmt.Errorf("exhausted all %d retries", maxRetries)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}
