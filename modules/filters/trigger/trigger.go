package trigger

import (
	"errors"
	"fmt"
	"io"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
)

// DefaultWord is the trigger word blocked by default.
const DefaultWord = "malicious"

type triggerFilter struct {
	id   string
	word []byte
}

func (tf *triggerFilter) ID() string {
	return tf.id
}

func (tf *triggerFilter) Init() error {
	return nil
}

func (tf *triggerFilter) Matches(src, dst packet.Port, content []byte) bool {
	return Contains(content, tf.word)
}

// Contains returns true if the letters of word appear in content in order, not necessarily adjacent.
func Contains(content, word []byte) bool {
	i := 0
	for _, c := range content {
		if i == len(word) {
			break
		}
		if c == word[i] {
			i++
		}
	}
	return i == len(word)
}

// New returns a filter blocking packets that carry word as a scattered subsequence.
func New(name, word string) packet.Filter {
	return &triggerFilter{
		id:   name,
		word: []byte(word),
	}
}

func newTriggerFilter(name string, opts util.Options) (util.Module, error) {
	word, err := opts.String("word", DefaultWord)
	if err != nil {
		return nil, err
	}
	if word == "" {
		return nil, errors.New("trigger filter needs a non-empty word")
	}
	return New(name, word), nil
}

func triggerHelp(name string, w io.Writer) {
	fmt.Fprintf(w, `
The %s filter blocks packets whose content contains the letters of a
trigger word in order. The letters may be interspersed with arbitrary other
bytes, e.g. "m-a-l-i-c-i-o-u-s" matches "malicious".

Options:
  word: <word>
    The trigger word (default %q).

Usage:
  filters:
    - type: %s
      options:
        word: %s
`, name, DefaultWord, name, DefaultWord)
}

func init() {
	packet.RegisterFilter("trigger", "Block packets containing a scattered trigger word.", newTriggerFilter, triggerHelp)
}
