package processor

import (
	"log"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	SplitterRecursive = "recursive"
	SplitterFixed     = "fixed"
)

// NoOverlap asks for chunks that share no characters. A zero ChunkOverlap
// selects the default instead.
const NoOverlap = -1

type ProcessorConfig struct {
	ChunkSize         int
	ChunkOverlap      int
	Splitter          string
	FallbackChunkSize int
	Logger            *log.Logger
}

// Processor is the chunker. It prefers langchaingo's recursive character
// splitter and falls back to fixed-width slicing.
type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.TextSplitter
	logger   *log.Logger
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	switch {
	case config.ChunkOverlap == 0:
		config.ChunkOverlap = 50
	case config.ChunkOverlap < 0:
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}
	if config.Splitter == "" {
		config.Splitter = SplitterRecursive
	}
	if config.FallbackChunkSize == 0 {
		config.FallbackChunkSize = 500
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[CHUNK] ", log.LstdFlags)
	}

	p := Processor{
		config: config,
		logger: logger,
	}
	if config.Splitter == SplitterRecursive {
		p.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		)
	}
	return p
}

// Split returns the ordered chunks of text. Empty input yields no chunks.
func (p Processor) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if p.splitter != nil {
		chunks, err := p.splitter.SplitText(text)
		if err == nil {
			chunks = dropBlank(chunks)
			if len(chunks) > 0 {
				return chunks
			}
		} else {
			p.logger.Printf("recursive splitter failed, using fixed slicing: %v", err)
		}
	}

	return FixedChunks(text, p.config.FallbackChunkSize)
}

// FixedChunks slices text into runs of at most size runes with no overlap.
// Concatenating the result reproduces text exactly.
func FixedChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	var chunks []string
	start, count := 0, 0
	for i := range text {
		if count == size {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(chunks, text[start:])
}

func dropBlank(chunks []string) []string {
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

// Clean drops invalid UTF-8 and blank lines and collapses runs of
// whitespace inside each line to a single space.
func Clean(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = strings.ReplaceAll(text, "\x00", "")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
