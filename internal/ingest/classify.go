package ingest

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/agentic-research/corpus/internal/source"
)

const mimeDirectory = "inode/directory"

// ClassifyFile sniffs the content of the file at path.
func ClassifyFile(path string) (source.Kind, string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return source.KindUnknown, "", err
	}
	return kindOf(m, path), m.String(), nil
}

// ClassifyReader sniffs the head of r. name is only used as a fallback hint
// for plain-text content.
func ClassifyReader(r io.Reader, name string) (source.Kind, string, error) {
	m, err := mimetype.DetectReader(r)
	if err != nil {
		return source.KindUnknown, "", err
	}
	return kindOf(m, name), m.String(), nil
}

func kindOf(m *mimetype.MIME, name string) source.Kind {
	for t := m; t != nil; t = t.Parent() {
		switch {
		case t.Is("application/zip"):
			return source.KindArchive
		case t.Is("text/xml"), t.Is("application/xml"):
			return source.KindXML
		case t.Is("application/json"):
			return source.KindJSON
		case t.Is("text/csv"):
			return source.KindCSV
		}
	}

	// Semicolon separated tables and truncated heads sniff as plain text.
	if m.Is("text/plain") {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".csv":
			return source.KindCSV
		case ".json":
			return source.KindJSON
		case ".xml":
			return source.KindXML
		}
	}
	return source.KindUnknown
}
