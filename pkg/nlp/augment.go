// Package nlp derives syntactic meta-tokens from a command string and
// appends them to the text seen by the learned model. This is pure feature
// engineering: the flags are independent booleans, carry no weights, and
// never decide a classification on their own. The same augmentation runs at
// training time and at inference time so the model sees one vocabulary.
package nlp

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

// Meta-token vocabulary. These strings are part of the model contract:
// the command classifier was trained on text carrying exactly these tokens.
const (
	TokenLongCmd     = "LONGCMD"      // unusually long one-liner
	TokenMultiDelim  = "MULTI_DELIM"  // chained command separators
	TokenEncoded     = "ENCODED"      // encoded payload hints
	TokenHexBlob     = "HEX_BLOB"     // long hex constants
	TokenSuspectVerb = "SUSPECT_VERB" // verb from the suspicious set
)

// LongCmdThreshold is the character count above which a command is flagged
// as an unusually long one-liner.
const LongCmdThreshold = 300

// suspectVerbs are verbs that matter in a shell / PowerShell context.
var suspectVerbs = map[string]struct{}{
	"download": {}, "invoke": {}, "execute": {}, "exec": {}, "inject": {},
	"encode": {}, "decode": {}, "upload": {}, "spawn": {},
}

var (
	encodedRe = regexp.MustCompile(`(?i)(?:-enc|base64)`)
	hexBlobRe = regexp.MustCompile(`(?i)\b(0x[0-9a-f]{2,})\b`)
)

// Augmenter computes meta-tokens. Tagging is CPU-bound and per call; the
// Augmenter itself is stateless and safe for concurrent use.
type Augmenter struct{}

// New returns a ready Augmenter.
func New() *Augmenter {
	return &Augmenter{}
}

// MetaTokens returns the flag set for a command, in a fixed order.
// Deterministic for identical input.
func (a *Augmenter) MetaTokens(cmd string) []string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil
	}

	var flags []string
	if utf8.RuneCountInString(cmd) > LongCmdThreshold {
		flags = append(flags, TokenLongCmd)
	}
	if strings.Contains(cmd, "&&") || strings.Contains(cmd, ";;") {
		flags = append(flags, TokenMultiDelim)
	}
	if encodedRe.MatchString(cmd) {
		flags = append(flags, TokenEncoded)
	}
	if hexBlobRe.MatchString(cmd) {
		flags = append(flags, TokenHexBlob)
	}
	if a.hasSuspectVerb(cmd) {
		flags = append(flags, TokenSuspectVerb)
	}
	return flags
}

// Augment appends the space-joined meta-tokens to the original text.
// Idempotent in effect for the model: the tokens are stable given the input.
func (a *Augmenter) Augment(cmd string) string {
	tokens := a.MetaTokens(cmd)
	if len(tokens) == 0 {
		return cmd + " "
	}
	return cmd + " " + strings.Join(tokens, " ")
}

// hasSuspectVerb part-of-speech tags the command and checks whether any
// verb's base form is in the suspicious set. Entity extraction and sentence
// segmentation are disabled; only the tagger runs.
func (a *Augmenter) hasSuspectVerb(cmd string) bool {
	doc, err := prose.NewDocument(cmd,
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		// Tagging is best effort; an untaggable string simply has no
		// verb flag.
		return false
	}

	for _, tok := range doc.Tokens() {
		if !strings.HasPrefix(tok.Tag, "VB") {
			continue
		}
		if _, ok := suspectVerbs[baseVerb(tok.Text)]; ok {
			return true
		}
	}
	return false
}

// baseVerb lower-cases a tagged verb and strips common inflection suffixes
// so "downloads", "downloaded" and "downloading" all resolve to "download".
func baseVerb(word string) string {
	w := strings.ToLower(word)
	if _, ok := suspectVerbs[w]; ok {
		return w
	}
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if trimmed, found := strings.CutSuffix(w, suffix); found && len(trimmed) >= 3 {
			if _, ok := suspectVerbs[trimmed]; ok {
				return trimmed
			}
		}
	}
	return w
}
