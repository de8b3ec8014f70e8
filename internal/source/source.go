// Package source reads already-parsed messages and puts them in the order
// the grading engine expects: grouped by sender, then by type, then
// chronologically.
package source

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/ashita-ai/hyoka/internal/model"
)

// ErrInvalidMessage is wrapped by every decoding or validation error.
var ErrInvalidMessage = errors.New("source: invalid message")

// File reads messages from a JSON or NDJSON file. Path "-" means stdin.
type File struct {
	Path  string
	Stdin io.Reader
}

// Messages loads, validates and orders the file's messages.
func (f File) Messages(ctx context.Context) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r io.Reader
	if f.Path == "-" {
		r = f.Stdin
		if r == nil {
			r = os.Stdin
		}
	} else {
		fh, err := os.Open(f.Path) //nolint:gosec // operator-supplied input file
		if err != nil {
			return nil, fmt.Errorf("source: open %s: %w", f.Path, err)
		}
		defer func() { _ = fh.Close() }()
		r = fh
	}
	msgs, err := Read(r)
	if err != nil {
		return nil, err
	}
	Order(msgs)
	return msgs, nil
}

// Read decodes a JSON array of messages or a stream of newline-delimited
// message objects. Every message needs an id and a sender.
func Read(r io.Reader) ([]model.Message, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("source: read: %w", err)
	}

	dec := json.NewDecoder(br)
	dec.DisallowUnknownFields()

	var msgs []model.Message
	if first == '[' {
		if err := dec.Decode(&msgs); err != nil {
			return nil, fmt.Errorf("%w: decode array: %v", ErrInvalidMessage, err)
		}
	} else {
		for {
			var m model.Message
			err := dec.Decode(&m)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidMessage, len(msgs)+1, err)
			}
			msgs = append(msgs, m)
		}
	}

	seen := make(map[string]bool, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		m.ID = strings.TrimSpace(m.ID)
		m.From = strings.TrimSpace(m.From)
		switch {
		case m.ID == "":
			return nil, fmt.Errorf("%w: record %d: id is required", ErrInvalidMessage, i+1)
		case m.From == "":
			return nil, fmt.Errorf("%w: record %d (%s): from is required", ErrInvalidMessage, i+1, m.ID)
		case seen[m.ID]:
			return nil, fmt.Errorf("%w: record %d: duplicate id %q", ErrInvalidMessage, i+1, m.ID)
		}
		seen[m.ID] = true
	}
	return msgs, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// Order sorts msgs in place by sender, type (case-insensitively) and date.
// Messages that tie keep their input order.
func Order(msgs []model.Message) {
	slices.SortStableFunc(msgs, func(a, b model.Message) int {
		return cmp.Or(
			cmp.Compare(a.From, b.From),
			cmp.Compare(strings.ToLower(a.Type), strings.ToLower(b.Type)),
			a.Date.Compare(b.Date),
		)
	})
}
