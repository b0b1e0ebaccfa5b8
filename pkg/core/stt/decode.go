package stt

import (
	"math"

	"github.com/voicegate-io/voicegate/pkg/core/fault"
)

// LogSoftmax re-normalizes a row of log-probabilities in place-safe
// fashion, returning a new slice. Uses the log-sum-exp trick for
// numerical stability. Applying it to an already-normalized row is a
// no-op up to floating point error.
func LogSoftmax(row []float64) []float64 {
	if len(row) == 0 {
		return nil
	}
	maxVal := math.Inf(-1)
	for _, v := range row {
		if v > maxVal {
			maxVal = v
		}
	}
	var expSum float64
	for _, v := range row {
		expSum += math.Exp(v - maxVal)
	}
	logSum := maxVal + math.Log(expSum)

	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = v - logSum
	}
	return out
}

// DecodeGreedy converts per-frame log-probabilities over the joint
// vocabulary into text for one language. The order is load-bearing:
// the columns are first filtered by the language mask, then
// re-normalized with log-softmax (filtering breaks normalization), then
// greedily decoded: per-frame argmax, collapse of consecutive repeats
// keeping the first, blank removal, token mapping, and sub-word joining
// with the word marker as space.
//
// Returns the text and a confidence score: the mean per-frame maximum
// probability of the filtered, re-normalized distribution.
func DecodeGreedy(logProbs [][]float64, mask []bool, vocab Vocab) (string, float64, error) {
	if err := vocab.Validate(); err != nil {
		return "", 0, fault.Wrap(fault.InferenceError, "vocab table", err)
	}
	if len(mask) == 0 {
		return "", 0, fault.New(fault.InferenceError, "empty language mask")
	}
	enabled := 0
	for _, m := range mask {
		if m {
			enabled++
		}
	}
	if enabled != FilteredVocabSize {
		return "", 0, fault.Newf(fault.InferenceError, "mask enables %d columns, want %d", enabled, FilteredVocabSize)
	}
	if len(logProbs) == 0 {
		return "", 0, nil
	}

	var (
		path    = make([]int, 0, len(logProbs))
		probSum float64
	)
	for t, row := range logProbs {
		if len(row) != len(mask) {
			return "", 0, fault.Newf(fault.InferenceError, "frame %d has %d columns, mask has %d", t, len(row), len(mask))
		}

		filtered := make([]float64, 0, FilteredVocabSize)
		for i, m := range mask {
			if m {
				filtered = append(filtered, row[i])
			}
		}

		normalized := LogSoftmax(filtered)

		best := 0
		for i, v := range normalized {
			if v > normalized[best] {
				best = i
			}
		}
		path = append(path, best)
		probSum += math.Exp(normalized[best])
	}

	// Collapse consecutive repeats, keeping the first of each run, then
	// drop the blank and map through the vocabulary.
	tokens := make([]string, 0, len(path))
	prev := -1
	for _, idx := range path {
		if idx == prev {
			continue
		}
		prev = idx
		if idx == FilteredBlankID {
			continue
		}
		token := vocab[idx]
		if skipToken(token) {
			continue
		}
		tokens = append(tokens, token)
	}

	confidence := probSum / float64(len(logProbs))
	return joinTokens(tokens), confidence, nil
}
