package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/agentic-research/corpus/api"
	"github.com/agentic-research/corpus/internal/source"
)

// StreamRecords decodes the records of a data file one at a time, calling fn
// for each one. Only one decoded record is alive at a time, keeping memory
// usage constant regardless of file size. An error from fn stops the stream
// and is returned unchanged.
func StreamRecords(kind source.Kind, path string, fn func(api.Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }() // safe to ignore

	switch kind {
	case source.KindXML:
		return streamXML(f, fn)
	case source.KindJSON:
		return streamJSON(f, fn)
	case source.KindCSV:
		return streamCSV(f, fn)
	}
	return fmt.Errorf("no record decoder for kind %q", kind)
}

// streamXML yields each child element of the document root as one record.
// Attributes are keyed "@name", text is kept under "$", and repeated child
// elements become lists. Elements carrying only text collapse to a string.
func streamXML(r io.Reader, fn func(api.Record) error) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	inRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !inRoot {
				inRoot = true
				continue
			}
			v, err := decodeElement(dec, t)
			if err != nil {
				return fmt.Errorf("decode xml element %s: %w", t.Name.Local, err)
			}
			rec, ok := v.(map[string]any)
			if !ok {
				rec = map[string]any{"$": v}
			}
			if err := fn(api.Record(rec)); err != nil {
				return err
			}
		case xml.EndElement:
			inRoot = false
		}
	}
}

func decodeElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	m := make(map[string]any, len(start.Attr))
	for _, a := range start.Attr {
		m["@"+a.Name.Local] = a.Value
	}
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			addChild(m, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			txt := strings.TrimSpace(text.String())
			if len(m) == 0 {
				return txt, nil
			}
			if txt != "" {
				m["$"] = txt
			}
			return m, nil
		}
	}
}

func addChild(m map[string]any, name string, v any) {
	prev, ok := m[name]
	if !ok {
		m[name] = v
		return
	}
	if list, ok := prev.([]any); ok {
		m[name] = append(list, v)
		return
	}
	m[name] = []any{prev, v}
}

// Registry extracts are often windows-1251.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// streamJSON accepts a top-level array (one record per element) or one or
// more concatenated objects.
func streamJSON(r io.Reader, fn func(api.Record) error) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
		for dec.More() {
			var rec map[string]any
			if err := dec.Decode(&rec); err != nil {
				return fmt.Errorf("decode json record: %w", err)
			}
			if err := fn(api.Record(rec)); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
		return nil
	}

	for {
		var rec map[string]any
		err := dec.Decode(&rec)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode json record: %w", err)
		}
		if err := fn(api.Record(rec)); err != nil {
			return err
		}
	}
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
		case 0xEF: // UTF-8 BOM
			if _, err := br.Discard(2); err != nil {
				return 0, err
			}
			continue
		}
		return b, br.UnreadByte()
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// streamCSV maps every row onto the header row. The delimiter is sniffed
// from the header line.
func streamCSV(r io.Reader, fn func(api.Record) error) error {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return err
	}

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(head)

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode csv header: %w", err)
	}
	header[0] = string(bytes.TrimPrefix([]byte(header[0]), utf8BOM))

	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode csv row: %w", err)
		}
		rec := make(api.Record, len(header))
		for i, h := range header {
			rec[h] = row[i]
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func sniffDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestN := ',', bytes.Count(head, []byte{','})
	for _, c := range []rune{';', '\t'} {
		if n := bytes.Count(head, []byte(string(c))); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}
