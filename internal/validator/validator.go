// Package validator performs the static deny-list scan over submitted
// JavaScript before anything is executed.
//
// This is textual, best-effort filtering: it catches direct references to
// dangerous constructs but cannot catch indirect reconstruction of them
// (string concatenation, computed member lookups). That limitation is by
// contract — rejection here is the first gate, not a sound isolation
// boundary. The sandbox's allow-list context is the second layer.
//
// All matchers are package-level compiled regexps. Go's regexp matching is
// stateless, so every ValidateCode call scans from the start of the input;
// validating the same text twice always yields identical results (there is a
// regression test pinning this down — a matcher that carried scan position
// across calls would silently miss repeats).
package validator

import (
	"regexp"
	"strings"
)

// Result is the outcome of one validation pass. Errors block execution;
// warnings do not.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Thresholds for the non-blocking warnings.
const (
	maxCodeLength   = 10000
	maxNestingDepth = 50
)

// signature is one deny-list entry: a pattern and the category it reports.
type signature struct {
	pattern  *regexp.Regexp
	category string
}

func sig(expr, category string) signature {
	return signature{pattern: regexp.MustCompile(expr), category: category}
}

// denyList is scanned in declaration order so error output is stable.
// Grouped by category; each match appends one error naming its category.
var denyList = []signature{
	// Dynamic code evaluation — text that becomes code defeats every static check.
	sig(`\beval\s*\(`, "dynamic code evaluation"),
	sig(`\bnew\s+Function\b`, "dynamic code evaluation"),
	sig(`\bFunction\s*\(`, "dynamic code evaluation"),
	sig(`\bGeneratorFunction\b`, "dynamic code evaluation"),
	sig(`\bAsyncFunction\b`, "dynamic code evaluation"),
	sig(`\.constructor\s*\(`, "dynamic code evaluation"),
	sig(`\bexecScript\s*\(`, "dynamic code evaluation"),

	// Ambient global / environment objects.
	sig(`\bwindow\b`, "ambient global access"),
	sig(`\bglobalThis\b`, "ambient global access"),
	sig(`\bself\b`, "ambient global access"),
	sig(`\bglobal\b`, "ambient global access"),
	sig(`\bprocess\b`, "ambient global access"),
	sig(`\brequire\s*\(`, "ambient global access"),
	sig(`\bparent\b`, "ambient global access"),
	sig(`\bframes\b`, "ambient global access"),
	sig(`\bnavigator\b`, "ambient global access"),
	sig(`\bscreen\b`, "ambient global access"),
	sig(`\bDeno\b`, "ambient global access"),

	// Network calls.
	sig(`\bfetch\s*\(`, "network access"),
	sig(`\bXMLHttpRequest\b`, "network access"),
	sig(`\bWebSocket\b`, "network access"),
	sig(`\bEventSource\b`, "network access"),
	sig(`\bsendBeacon\b`, "network access"),
	sig(`\bimportScripts\s*\(`, "network access"),
	sig(`\bimport\s*\(`, "network access"),
	sig(`\bRTCPeerConnection\b`, "network access"),

	// Persistent / volatile storage.
	sig(`\blocalStorage\b`, "storage access"),
	sig(`\bsessionStorage\b`, "storage access"),
	sig(`\bindexedDB\b`, "storage access"),
	sig(`\bopenDatabase\s*\(`, "storage access"),
	sig(`\bcaches\b`, "storage access"),
	sig(`document\s*\.\s*cookie`, "storage access"),

	// DOM / document mutation.
	sig(`\bdocument\b`, "document access"),
	sig(`\binnerHTML\b`, "document access"),
	sig(`\bouterHTML\b`, "document access"),
	sig(`\binsertAdjacentHTML\b`, "document access"),
	sig(`\bcreateElement\s*\(`, "document access"),
	sig(`\bappendChild\s*\(`, "document access"),
	sig(`\blocation\b`, "document access"),
	sig(`\bhistory\b`, "document access"),

	// Reflection / proxies — indirection around name-based filtering.
	sig(`\bReflect\b`, "reflection"),
	sig(`\bProxy\b`, "reflection"),
	sig(`\bgetPrototypeOf\b`, "reflection"),
	sig(`\bsetPrototypeOf\b`, "reflection"),
	sig(`__defineGetter__`, "reflection"),
	sig(`__defineSetter__`, "reflection"),
	sig(`__lookupGetter__`, "reflection"),
	sig(`__lookupSetter__`, "reflection"),

	// Prototype chain mutation.
	sig(`__proto__`, "prototype mutation"),
	sig(`\.prototype\b`, "prototype mutation"),
	sig(`\bObject\s*\.\s*defineProperty\b`, "prototype mutation"),
	sig(`\bObject\s*\.\s*defineProperties\b`, "prototype mutation"),
	sig(`\bObject\s*\.\s*assign\s*\(\s*Object\b`, "prototype mutation"),

	// Timers scheduled with string arguments are eval in disguise.
	sig(`\bsetTimeout\s*\(\s*["'` + "`" + `]`, "string-argument timer"),
	sig(`\bsetInterval\s*\(\s*["'` + "`" + `]`, "string-argument timer"),
	sig(`\bsetImmediate\s*\(\s*["'` + "`" + `]`, "string-argument timer"),

	// Workers and shared memory.
	sig(`\bWorker\b`, "worker spawn"),
	sig(`\bSharedWorker\b`, "worker spawn"),
	sig(`\bServiceWorker\b`, "worker spawn"),
	sig(`\bSharedArrayBuffer\b`, "worker spawn"),
	sig(`\bAtomics\b`, "worker spawn"),
	sig(`\bpostMessage\s*\(`, "worker spawn"),

	// Host dialogs.
	sig(`\balert\s*\(`, "host dialog"),
	sig(`\bprompt\s*\(`, "host dialog"),
	sig(`\bconfirm\s*\(`, "host dialog"),

	// Obfuscation markers: escaped codepoints and decode-to-text helpers
	// commonly used to smuggle identifiers past the checks above.
	sig(`\\x[0-9a-fA-F]{2}`, "obfuscated code"),
	sig(`\\u[0-9a-fA-F]{4}`, "obfuscated code"),
	sig(`\batob\s*\(`, "obfuscated code"),
	sig(`\bbtoa\s*\(`, "obfuscated code"),
	sig(`\bunescape\s*\(`, "obfuscated code"),
	sig(`\bdecodeURIComponent\s*\(`, "obfuscated code"),
	sig(`String\s*\.\s*fromCharCode`, "obfuscated code"),
	sig(`\bTextDecoder\b`, "obfuscated code"),
	sig(`Buffer\s*\.\s*from`, "obfuscated code"),
}

// callIdentifiers is the second pass: bare dangerous identifiers immediately
// followed by a call parenthesis. Overlap with the deny-list above is
// deliberate — a construct caught by both passes reports twice, which is
// harmless and keeps the two passes independent.
var callIdentifiers = []string{
	"eval",
	"Function",
	"require",
	"fetch",
	"importScripts",
	"execScript",
	"open",
	"alert",
	"prompt",
	"confirm",
}

var callPatterns = func() []signature {
	sigs := make([]signature, 0, len(callIdentifiers))
	for _, name := range callIdentifiers {
		sigs = append(sigs, sig(`\b`+name+`\s*\(`, name))
	}
	return sigs
}()

// protoMutation is the third pass: assignment forms that rewrite the
// prototype chain. These are errors, not warnings — a poisoned shared
// prototype outlives the submission that planted it.
var protoMutation = []*regexp.Regexp{
	regexp.MustCompile(`__proto__\s*=`),
	regexp.MustCompile(`\.prototype\s*=`),
	regexp.MustCompile(`\.prototype\s*\[[^\]]*\]\s*=`),
	regexp.MustCompile(`\bsetPrototypeOf\s*\(`),
}

// Warning patterns: loop guards that can never become false.
var alwaysTrueLoops = []*regexp.Regexp{
	regexp.MustCompile(`\bwhile\s*\(\s*(?:true|1|!0)\s*\)`),
	regexp.MustCompile(`\bfor\s*\(\s*;\s*;\s*\)`),
	regexp.MustCompile(`\bdo\s*\{[\s\S]*?\}\s*while\s*\(\s*(?:true|1|!0)\s*\)`),
}

// ValidateCode scans the submitted text and returns a fresh Result.
// Comments are not exempt: matching is literal over the whole text, so a
// deny-listed construct inside a comment still rejects the submission. Crude,
// but it closes the "hide it in a comment, extract it with slice tricks"
// family of bypasses for free.
func ValidateCode(code string) Result {
	res := Result{
		Errors:   []string{},
		Warnings: []string{},
	}

	// Pass 1: category deny-list, declaration order.
	for _, s := range denyList {
		if s.pattern.MatchString(code) {
			res.Errors = append(res.Errors, s.category+" is not allowed")
		}
	}

	// Pass 2: dangerous identifiers invoked as calls.
	for _, s := range callPatterns {
		if s.pattern.MatchString(code) {
			res.Errors = append(res.Errors, "call to restricted function "+s.category)
		}
	}

	// Pass 3: prototype mutation syntax forms.
	for _, p := range protoMutation {
		if p.MatchString(code) {
			res.Errors = append(res.Errors, "prototype mutation is not allowed")
		}
	}

	// Warnings — advisory only, never block.
	if len(code) > maxCodeLength {
		res.Warnings = append(res.Warnings, "code exceeds 10000 characters and may run slowly")
	}
	if depth := maxBraceDepth(code); depth > maxNestingDepth {
		res.Warnings = append(res.Warnings, "nesting depth exceeds 50 and may indicate generated code")
	}
	for _, p := range alwaysTrueLoops {
		if p.MatchString(code) {
			res.Warnings = append(res.Warnings, "possible infinite loop detected")
			break
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// SanitizeCode strips control and NUL bytes from the text. It does NOT
// rewrite or neutralize dangerous constructs — that is rejection's job, and
// rejection happens in ValidateCode. Tabs, newlines, and carriage returns
// survive; everything else below 0x20, and DEL, is dropped.
func SanitizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, code)
}

// maxBraceDepth returns the deepest brace nesting in the text. String and
// template literals are not parsed — this feeds a heuristic warning, not a
// correctness decision.
func maxBraceDepth(code string) int {
	depth, max := 0, 0
	for _, r := range code {
		switch r {
		case '{':
			depth++
			if depth > max {
				max = depth
			}
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}
