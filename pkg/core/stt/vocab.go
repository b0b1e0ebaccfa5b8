package stt

import (
	"fmt"
	"strings"
)

// Joint multilingual vocabulary layout: 22 languages with 256 sub-word
// tokens each, plus one shared blank column at the end.
const (
	// LangBlockSize is the per-language token count in the joint
	// vocabulary.
	LangBlockSize = 256

	// JointVocabSize is the total joint vocabulary width.
	JointVocabSize = 22*LangBlockSize + 1 // 5633

	// JointBlankIndex is the shared CTC blank column in the joint
	// vocabulary.
	JointBlankIndex = JointVocabSize - 1 // 5632

	// FilteredVocabSize is the per-language width after masking: the
	// language's block plus the shared blank.
	FilteredVocabSize = LangBlockSize + 1 // 257

	// FilteredBlankID is the blank's index in the filtered space. The
	// blank is the last enabled column, so it lands at the end.
	FilteredBlankID = FilteredVocabSize - 1 // 256
)

// ConformerLanguages lists the joint vocabulary's languages in block
// order. The block for ConformerLanguages[i] starts at i*LangBlockSize.
var ConformerLanguages = []string{
	"as", "bn", "brx", "doi", "gu", "hi", "kn", "kok", "ks", "mai", "ml",
	"mni", "mr", "ne", "or", "pa", "sa", "sat", "sd", "ta", "te", "ur",
}

// LanguageOffset returns the joint-vocabulary start index of the given
// language's token block.
func LanguageOffset(lang string) (int, bool) {
	for i, l := range ConformerLanguages {
		if l == lang {
			return i * LangBlockSize, true
		}
	}
	return 0, false
}

// LanguageMask builds the boolean column selector for one language: its
// 256-token block plus the shared blank.
func LanguageMask(lang string) ([]bool, error) {
	offset, ok := LanguageOffset(lang)
	if !ok {
		return nil, fmt.Errorf("language %q not in joint vocabulary", lang)
	}
	mask := make([]bool, JointVocabSize)
	for i := offset; i < offset+LangBlockSize; i++ {
		mask[i] = true
	}
	mask[JointBlankIndex] = true
	return mask, nil
}

// Vocab is a per-language token table indexed by filtered column. It
// holds FilteredVocabSize entries, the blank token last.
type Vocab []string

// Validate checks the table has the expected width.
func (v Vocab) Validate() error {
	if len(v) != FilteredVocabSize {
		return fmt.Errorf("vocab has %d tokens, want %d", len(v), FilteredVocabSize)
	}
	return nil
}

// wordMarker is the sub-word continuation marker emitted by the model's
// tokenizer; it becomes a literal space in decoded text.
const wordMarker = "▁"

// skipToken reports whether a vocabulary entry is a special token that
// never appears in decoded text.
func skipToken(token string) bool {
	switch token {
	case "<unk>", "<blk>", "<blank>", "|":
		return true
	}
	return false
}

// joinTokens concatenates sub-word tokens into text, converting the
// word marker to a space and trimming the edges.
func joinTokens(tokens []string) string {
	text := strings.Join(tokens, "")
	text = strings.ReplaceAll(text, wordMarker, " ")
	return strings.TrimSpace(text)
}
