package query

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dgallion1/docask/internal/llm"
)

// Kind tags a parsed model reply.
type Kind int

const (
	KindStructured  Kind = iota + 1 // Value holds parsed JSON
	KindRawText                     // Plain text was all that was asked for
	KindParseFailed                 // JSON was required and Err says why it failed
)

func (k Kind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindRawText:
		return "raw_text"
	case KindParseFailed:
		return "parse_failed"
	default:
		return "unknown"
	}
}

// Result is a model reply, either parsed or not.
type Result struct {
	Kind  Kind
	Value gjson.Result
	Raw   string
	Err   string
}

// MalformedResponseError is returned when the model never produced usable
// JSON within the allowed attempts.
type MalformedResponseError struct {
	Attempts int
	Reason   string
	Last     string
}

func (e *MalformedResponseError) Error() string {
	last := e.Last
	if len(last) > 200 {
		last = last[:200] + "..."
	}
	return fmt.Sprintf("malformed response after %d attempts: %s (raw: %s)", e.Attempts, e.Reason, last)
}

// ParseJSON parses a reply that should be JSON. Code fences are stripped, and
// when the reply wraps JSON in prose, the outermost array or object is used.
func ParseJSON(text string) Result {
	s := llm.StripCodeBlock(text)
	if gjson.Valid(s) {
		return Result{Kind: KindStructured, Value: gjson.Parse(s), Raw: text}
	}
	if inner, ok := outermostJSON(s); ok && gjson.Valid(inner) {
		return Result{Kind: KindStructured, Value: gjson.Parse(inner), Raw: text}
	}
	return Result{Kind: KindParseFailed, Raw: text, Err: "reply is not valid JSON"}
}

// Classify tags text as raw when JSON was not required.
func Classify(text string, wantJSON bool) Result {
	if !wantJSON {
		return Result{Kind: KindRawText, Raw: text}
	}
	return ParseJSON(text)
}

func outermostJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return "", false
	}
	closer := byte(']')
	if s[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

type structState int

const (
	stateRequest structState = iota
	stateParse
	stateRepair
	stateDone
	stateFailed
)

// Validator rejects JSON that parses but has the wrong shape.
type Validator func(gjson.Result) error

// CompleteStructured asks for JSON and re-prompts with the parse error until
// the reply validates or attempts run out. attempts <= 0 means the
// configured StructuredAttempts. Transport errors are returned as they are;
// exhausting attempts yields *MalformedResponseError.
func (e *Engine) CompleteStructured(ctx context.Context, stage string, req llm.Request, attempts int, validate Validator) (Result, error) {
	if attempts <= 0 {
		attempts = max(e.cfg.StructuredAttempts, 1)
	}
	req.Messages = slices.Clone(req.Messages)

	var (
		state = stateRequest
		tries int
		reply string
		res   Result
	)
	for {
		switch state {
		case stateRequest:
			tries++
			resp, err := e.call(ctx, stage, req)
			if err != nil {
				return Result{}, err
			}
			reply = resp.Text
			state = stateParse

		case stateParse:
			res = ParseJSON(reply)
			if res.Kind == KindStructured && validate != nil {
				if err := validate(res.Value); err != nil {
					res = Result{Kind: KindParseFailed, Raw: reply, Err: err.Error()}
				}
			}
			switch {
			case res.Kind == KindStructured:
				state = stateDone
			case tries >= attempts:
				state = stateFailed
			default:
				state = stateRepair
			}

		case stateRepair:
			req.Messages = append(req.Messages,
				llm.Message{Role: llm.RoleAssistant, Content: reply},
				llm.Message{Role: llm.RoleUser, Content: repairPrompt(res.Err)},
			)
			state = stateRequest

		case stateDone:
			return res, nil

		case stateFailed:
			return res, &MalformedResponseError{Attempts: tries, Reason: res.Err, Last: reply}
		}
	}
}
