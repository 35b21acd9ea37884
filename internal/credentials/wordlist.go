package credentials

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
)

//go:embed words.txt
var embeddedWords string

var defaultWords = sync.OnceValue(func() []string {
	return splitWords(embeddedWords)
})

// DefaultWords returns the embedded password word list.
func DefaultWords() []string {
	return defaultWords()
}

// LoadWordList reads a word list file, one word per line. Blank lines and
// lines starting with '#' are skipped.
func LoadWordList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("word list: %w", err)
	}
	words := splitWords(string(data))
	if len(words) == 0 {
		return nil, fmt.Errorf("word list %s is empty", path)
	}
	return words, nil
}

func splitWords(data string) []string {
	var words []string
	for _, line := range strings.Split(data, "\n") {
		w := strings.TrimSpace(line)
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		words = append(words, w)
	}
	return words
}
