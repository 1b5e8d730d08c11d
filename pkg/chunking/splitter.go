package chunking

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// recursiveSplitter splits on the first separator present in the text and
// recurses into pieces that are still too long, like
// textsplitter.RecursiveCharacter. Its merge step counts the joining
// separator whenever a piece is appended to a non-empty chunk, so no chunk
// exceeds ChunkSize.
type recursiveSplitter struct {
	separators []string
	size       int
	overlap    int
	lenFunc    func(string) int
}

var _ textsplitter.TextSplitter = recursiveSplitter{}

func newRecursiveSplitter(opts ...textsplitter.Option) recursiveSplitter {
	o := textsplitter.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return recursiveSplitter{
		separators: o.Separators,
		size:       o.ChunkSize,
		overlap:    o.ChunkOverlap,
		lenFunc:    o.LenFunc,
	}
}

func (s recursiveSplitter) SplitText(text string) ([]string, error) {
	return s.split(text, s.separators), nil
}

func (s recursiveSplitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var chunks, good []string
	for _, piece := range strings.Split(text, separator) {
		if s.lenFunc(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, piece)
			continue
		}
		chunks = append(chunks, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good, separator)...)
	}
	return chunks
}

// merge packs pieces into chunks of at most size, carrying up to overlap
// worth of trailing pieces into the next chunk.
func (s recursiveSplitter) merge(pieces []string, separator string) []string {
	sepLen := s.lenFunc(separator)
	// joined is the length of current once re-joined with separator
	joined := func(current []string, total, extra int) int {
		if len(current) > 0 {
			return total + extra + sepLen
		}
		return total + extra
	}

	var chunks, current []string
	total := 0
	for _, piece := range pieces {
		n := s.lenFunc(piece)
		if joined(current, total, n) > s.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
				chunks = append(chunks, doc)
			}
			for len(current) > 0 && (total > s.overlap || joined(current, total, n) > s.size) {
				total -= s.lenFunc(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		total = joined(current, total, n)
		current = append(current, piece)
	}
	if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
		chunks = append(chunks, doc)
	}
	return chunks
}
