package timeline

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/goccy/go-json"
)

var (
	errStopped        = errors.New("stopped by consumer")
	errStreamConsumed = errors.New("timeline stream already consumed")
	utf8BOM           = []byte{0xEF, 0xBB, 0xBF}
)

// Stream reads records incrementally from a reader. Memory use is bounded by
// the largest single unit, not by the document.
type Stream struct {
	src      *bufio.Reader
	session  *Session
	parser   *Parser
	dialect  Dialect
	consumed bool
}

// NewStream prepares a streaming parse of r for owner. Nothing is read until
// Records is ranged over.
func (p *Parser) NewStream(r io.Reader, owner string) *Stream {
	size := p.peekSize
	if size < 4096 {
		size = 4096
	}
	return &Stream{
		src:     bufio.NewReaderSize(r, size),
		session: p.NewSession(owner),
		parser:  p,
	}
}

// Dialect reports the dialect chosen from the first structural token. It is
// DialectUnknown until Records has started.
func (st *Stream) Dialect() Dialect { return st.dialect }

// Summary returns the session summary. It is complete once Records has been
// fully drained.
func (st *Stream) Summary() Summary { return st.session.Summary() }

// Records yields valid records in document order. A non-nil error ends the
// sequence; records yielded before it stay valid. An input whose first token
// is neither '[' nor '{' yields nothing. Records can be ranged over once.
func (st *Stream) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if st.consumed {
			yield(Record{}, errStreamConsumed)
			return
		}
		st.consumed = true

		dialect, err := st.sniff()
		if err != nil {
			st.session.validator.AddError(err.Error())
			yield(Record{}, err)
			return
		}
		st.dialect = dialect
		if dialect == DialectUnknown {
			st.session.validator.AddWarning("unrecognised first token, no records read")
			st.parser.logger.Warn().Str("owner", st.session.owner).Msg("timeline stream does not start with an object or array")
			return
		}

		emit := func(r Record) bool { return yield(r, nil) }
		dec := json.NewDecoder(st.src)
		switch dialect {
		case DialectAndroid:
			err = st.walkAndroid(dec, emit)
		case DialectIPhone:
			err = st.walkIPhone(dec, emit)
		}
		if err == nil {
			err = st.expectEnd(dec)
		}
		if err != nil && !errors.Is(err, errStopped) {
			st.session.validator.AddError(err.Error())
			yield(Record{}, err)
		}
	}
}

// sniff inspects a bounded prefix for the first structural byte. The reader
// is left positioned at that byte.
func (st *Stream) sniff() (Dialect, error) {
	buf, err := st.src.Peek(st.parser.peekSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return DialectUnknown, fmt.Errorf("read timeline prefix: %w", err)
	}
	offset := 0
	if bytes.HasPrefix(buf, utf8BOM) {
		offset = len(utf8BOM)
	}
	for i := offset; i < len(buf); i++ {
		switch buf[i] {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if _, err := st.src.Discard(i); err != nil {
			return DialectUnknown, fmt.Errorf("read timeline prefix: %w", err)
		}
		return DetectToken(buf[i]), nil
	}
	return DialectUnknown, nil
}

func (st *Stream) walkAndroid(dec *json.Decoder, emit func(Record) bool) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	found := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return malformed(err)
		}
		if key, _ := tok.(string); key != androidSegmentsKey {
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}
		found = true

		tok, err = dec.Token()
		if err != nil {
			return malformed(err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return fmt.Errorf("%w: semanticSegments must be an array", ErrInvalidStructure)
		}
		units := 0
		for dec.More() {
			var unit any
			if err := dec.Decode(&unit); err != nil {
				return malformed(err)
			}
			units++
			if !st.session.process(DialectAndroid, unit, emit) {
				return errStopped
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
		if units == 0 {
			st.session.validator.AddWarning("semanticSegments is empty")
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: android export has no semanticSegments", ErrUnsupportedFormat)
	}
	return nil
}

func (st *Stream) walkIPhone(dec *json.Decoder, emit func(Record) bool) error {
	if err := expectDelim(dec, '['); err != nil {
		return err
	}
	units := 0
	for dec.More() {
		var unit any
		if err := dec.Decode(&unit); err != nil {
			return malformed(err)
		}
		if units == 0 {
			if first, ok := asObject(unit); !ok || !first.has(iphoneStartKey) {
				return fmt.Errorf("%w: first iphone item has no %s", ErrUnsupportedFormat, iphoneStartKey)
			}
		}
		units++
		if !st.session.process(DialectIPhone, unit, emit) {
			return errStopped
		}
	}
	if err := expectDelim(dec, ']'); err != nil {
		return err
	}
	if units == 0 {
		st.session.validator.AddWarning("iphone export is empty")
	}
	return nil
}

// expectEnd requires that only whitespace follows the top-level value.
func (st *Stream) expectEnd(dec *json.Decoder) error {
	rest := bufio.NewReader(io.MultiReader(dec.Buffered(), st.src))
	for {
		b, err := rest.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return malformed(err)
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return fmt.Errorf("%w: unexpected %q after top-level value", ErrMalformedJSON, b)
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return malformed(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrMalformedJSON, want, tok)
	}
	return nil
}

// skipValue consumes the next value token by token so large unrelated
// members are never held in memory.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return malformed(err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

func malformed(err error) error {
	if errors.Is(err, ErrMalformedJSON) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
}
