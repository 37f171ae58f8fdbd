package writers

import (
	"context"
	"encoding/xml"
	"regexp"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
)

// invalidXMLName matches every character that cannot appear in an output
// element name. Offenders are replaced with underscores.
var invalidXMLName = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// xmlElementName sanitizes a field name into a well-formed element name.
// Names must start with a letter or underscore, so offending first
// characters get an underscore prefix.
func xmlElementName(name string) string {
	name = invalidXMLName.ReplaceAllString(name, "_")
	if name == "" {
		return "_"
	}
	c := name[0]
	if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
		return name
	}
	return "_" + name
}

// XMLWriter streams the staged dataset into a DATA document with one ROW
// element per record and one child element per field.
type XMLWriter struct{}

// NewXMLWriter creates the XML format writer.
func NewXMLWriter() *XMLWriter {
	return &XMLWriter{}
}

// Format implements output.FormatWriter.
func (w *XMLWriter) Format() domain.Format {
	return domain.FormatXML
}

// Write implements output.FormatWriter.
func (w *XMLWriter) Write(ctx context.Context, req output.WriteRequest) (domain.Artifact, error) {
	path := artifactPath(req)

	out, err := createArtifact(path)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	names := make([]string, len(req.Schema))
	for i, name := range req.Columns.OutputNames() {
		names[i] = xmlElementName(name)
	}

	if _, err := out.WriteString(xml.Header + "<DATA>\n"); err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	var rows int64
	err = forEachChunk(ctx, req.StagedPath, req.ChunkSize, func(chunk []domain.Row) error {
		for _, row := range chunk {
			if err := writeRowElement(out, names, row); err != nil {
				return err
			}
			rows++
		}
		return nil
	})
	if err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	if _, err := out.WriteString("</DATA>\n"); err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	digest := out.Digest()
	if err := out.Close(); err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	return domain.Artifact{Spec: req.Spec, Path: path, Digest: digest, Rows: rows}, nil
}

func writeRowElement(out *artifactFile, names []string, row domain.Row) error {
	if _, err := out.WriteString("  <ROW>"); err != nil {
		return err
	}
	for i, name := range names {
		if _, err := out.WriteString("<" + name + ">"); err != nil {
			return err
		}
		if err := xml.EscapeText(out, []byte(formatValue(row[i]))); err != nil {
			return err
		}
		if _, err := out.WriteString("</" + name + ">"); err != nil {
			return err
		}
	}
	_, err := out.WriteString("</ROW>\n")
	return err
}
