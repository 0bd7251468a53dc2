package agent

import "encoding/json"

// JSON-mode schemas for the Planner/Executor/Watchdog decision calls
// (spec.md §9 "Dynamic JSON parsing": validate each response against a
// declared schema before consuming it). Declared as raw literals rather
// than built with encoding/json at call time, matching how the teacher's
// tool definitions (internal/agentloop/tools.go) embed static JSON Schema.

var keywordExtractionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"keywords": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 3,
			"maxItems": 5
		}
	},
	"required": ["keywords"]
}`)

type keywordExtractionResult struct {
	Keywords []string `json:"keywords"`
}

// planStepSchema matches spec.md §4.2 step 4's
// {thought, command ∈ {browser, finish, wait}, input}.
var planStepSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"thought": {"type": "string"},
		"command": {"type": "string", "enum": ["browser", "finish", "wait"]},
		"input": {
			"type": "object",
			"properties": {
				"goal": {"type": "string"},
				"answer": {"type": "string"}
			}
		}
	},
	"required": ["thought", "command"]
}`)

type planStepResult struct {
	Thought string `json:"thought"`
	Command string `json:"command"`
	Input   struct {
		Goal   string `json:"goal"`
		Answer string `json:"answer"`
	} `json:"input"`
}

const (
	planCommandBrowser = "browser"
	planCommandFinish  = "finish"
	planCommandWait    = "wait"
)

// decisionSchema matches spec.md §4.3 step 4's
// {thought, action ∈ {goto, click, type, search, wait, finish, answer}, param?, answer?}.
var decisionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"thought": {"type": "string"},
		"action": {"type": "string", "enum": ["goto", "click", "type", "search", "wait", "finish", "answer"]},
		"param": {"type": "string"},
		"answer": {"type": "string"}
	},
	"required": ["thought", "action"]
}`)

type decisionResult struct {
	Thought string `json:"thought"`
	Action  string `json:"action"`
	Param   string `json:"param"`
	Answer  string `json:"answer"`
}

const (
	actionGoto   = "goto"
	actionClick  = "click"
	actionType   = "type"
	actionSearch = "search"
	actionWait   = "wait"
	actionFinish = "finish"
	actionAnswer = "answer"
)

// summarizationSchema matches spec.md §4.3 step 6's
// {summary, extracted} — the only place raw DOM is compressed for the Planner.
var summarizationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string"},
		"extracted": {"type": "object"}
	},
	"required": ["summary"]
}`)

type summarizationResult struct {
	Summary   string         `json:"summary"`
	Extracted map[string]any `json:"extracted"`
}

// watchdogSchema matches spec.md §4.4 Tier 2's
// {isStuck, needsIntervention, reason, newBlockKeywords[]}.
var watchdogSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"isStuck": {"type": "boolean"},
		"needsIntervention": {"type": "boolean"},
		"reason": {"type": "string"},
		"newBlockKeywords": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["isStuck", "needsIntervention"]
}`)

type watchdogResult struct {
	IsStuck           bool     `json:"isStuck"`
	NeedsIntervention bool     `json:"needsIntervention"`
	Reason            string   `json:"reason"`
	NewBlockKeywords  []string `json:"newBlockKeywords"`
}

// decodeJSONMode unmarshals a JSON-mode ChatResponse.Content into dst,
// the uniform error path spec.md §7 calls out: "malformed JSON ... within
// Planner/Executor decision calls -> propagate as task failure".
func decodeJSONMode(content string, dst any) error {
	return json.Unmarshal([]byte(content), dst)
}
