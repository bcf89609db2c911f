// Package tools exposes the analytical operations as a typed tool surface:
// named requests with loosely-typed arguments dispatched to handlers that
// return a uniform result envelope, with a compact snapshot projection for
// agent consumption.
package tools

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/riskcore/internal/domain"
)

// Output formats.
const (
	FormatFull    = "full"
	FormatSummary = "summary"
	FormatAgent   = "agent"
)

// Request is one tool invocation.
type Request struct {
	Tool   string                 `json:"tool"`
	UserID string                 `json:"user_id"`
	Format string                 `json:"format,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// String returns a string argument or the fallback.
func (r *Request) String(key, fallback string) string {
	if v, ok := r.Args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Float returns a numeric argument or the fallback. JSON decoding yields
// float64; integer literals are accepted too.
func (r *Request) Float(key string, fallback float64) float64 {
	switch v := r.Args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// Bool returns a boolean argument or the fallback.
func (r *Request) Bool(key string, fallback bool) bool {
	if v, ok := r.Args[key].(bool); ok {
		return v
	}
	return fallback
}

// FloatMap returns a string-to-number argument, or nil when absent.
func (r *Request) FloatMap(key string) map[string]float64 {
	raw, ok := r.Args[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// Strings returns a string-list argument, or nil when absent.
func (r *Request) Strings(key string) []string {
	raw, ok := r.Args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Date parses a YYYY-MM-DD argument; zero time when absent or malformed.
func (r *Request) Date(key string) time.Time {
	v, ok := r.Args[key].(string)
	if !ok || v == "" {
		return time.Time{}
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return d
}

// Metadata identifies the analysis a result belongs to.
type Metadata struct {
	AnalysisDate  time.Time `json:"analysis_date"`
	PortfolioName string    `json:"portfolio_name,omitempty"`
	UserID        string    `json:"user_id"`
	Tool          string    `json:"tool"`
}

// ErrorInfo is the stable error surface. Code is one of the domain error
// kinds; INTERNAL errors additionally carry an opaque id.
type ErrorInfo struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	ID          string   `json:"id,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// Result is the uniform tool envelope.
type Result struct {
	Success  bool                   `json:"success"`
	Summary  map[string]interface{} `json:"summary,omitempty"`
	Detail   interface{}            `json:"detail,omitempty"`
	Metadata Metadata               `json:"metadata"`
	Flags    []string               `json:"flags,omitempty"`
	// Snapshot is the agent-format projection: scalars and short lists
	// suitable for a single-line readout.
	Snapshot map[string]interface{} `json:"snapshot,omitempty"`
	FilePath string                 `json:"file_path,omitempty"`
	Error    *ErrorInfo             `json:"error,omitempty"`
}

// failure maps an error into the envelope with its stable code.
func failure(req *Request, now time.Time, err error) *Result {
	info := &ErrorInfo{Code: string(domain.KindOf(err)), Message: err.Error()}
	var derr *domain.Error
	if errors.As(err, &derr) {
		info.ID = derr.ID
		info.Constraints = derr.Constraints
	}
	return &Result{
		Success: false,
		Metadata: Metadata{
			AnalysisDate: now,
			UserID:       req.UserID,
			Tool:         req.Tool,
		},
		Error: info,
	}
}

// success builds the envelope skeleton for a completed operation.
func success(req *Request, now time.Time, detail interface{}) *Result {
	return &Result{
		Success: true,
		Detail:  detail,
		Metadata: Metadata{
			AnalysisDate: now,
			UserID:       req.UserID,
			Tool:         req.Tool,
		},
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+sign(v)*0.5)) / 100
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
