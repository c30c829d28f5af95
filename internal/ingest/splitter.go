package ingest

import (
	"strings"
)

const (
	defaultChunkSize    = 500
	defaultChunkOverlap = 50
)

// Splitter cuts document text into overlapping chunks. It is
// paragraph-aware: paragraph boundaries are preferred cut points, and only
// oversized paragraphs are cut mid-text on word boundaries.
type Splitter struct {
	Size    int
	Overlap int
}

func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return Splitter{Size: size, Overlap: overlap}
}

// Split returns the chunk texts in document order. Whitespace-only input
// yields no chunks.
func (s Splitter) Split(text string) []string {
	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= s.Size {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, s.splitLong(para)...)
	}

	// Pack consecutive pieces into chunks up to Size.
	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
	}
	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+2+len(piece) > s.Size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
	}
	flush()
	return chunks
}

// splitLong cuts one oversized paragraph on word boundaries, carrying
// Overlap trailing characters into each following chunk.
func (s Splitter) splitLong(para string) []string {
	words := strings.Fields(para)
	var out []string
	var current strings.Builder
	for _, word := range words {
		if current.Len() > 0 && current.Len()+1+len(word) > s.Size {
			chunk := current.String()
			out = append(out, chunk)
			current.Reset()
			current.WriteString(tailWords(chunk, s.Overlap))
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// tailWords returns the trailing whole words of s up to roughly max
// characters.
func tailWords(s string, max int) string {
	if max <= 0 || len(s) <= max {
		if max <= 0 {
			return ""
		}
		return s
	}
	cut := s[len(s)-max:]
	if idx := strings.IndexByte(cut, ' '); idx >= 0 {
		cut = cut[idx+1:]
	}
	return cut
}
