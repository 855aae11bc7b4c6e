package recovery

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteTable writes the header and every record of t to w, separated by delim
// and encoded with codec. Fields are quoted only where needed. No index column
// is added.
//
// Reading the output back gives the same table: header names that column
// normalization would alter are written inside one extra quote layer, and a
// row holding a single empty field is written as "" rather than a blank line.
func WriteTable(w io.Writer, t CleanTable, delim rune, codec Codec) error {
	encode := codec.encoder()

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = delim

	writeRow := func(line int, row []string) error {
		buf.Reset()
		if len(row) == 1 && row[0] == "" {
			buf.WriteString("\"\"\n")
		} else {
			if err := cw.Write(row); err != nil {
				return &IOError{Op: "write", Err: err}
			}
			cw.Flush()
			if err := cw.Error(); err != nil {
				return &IOError{Op: "write", Err: err}
			}
		}
		out, err := encode(buf.Bytes())
		if err != nil {
			return &EncodingError{Encoding: codec.Name(), Line: line, Err: err}
		}
		if _, err := w.Write(out); err != nil {
			return &IOError{Op: "write", Err: err}
		}
		return nil
	}

	if err := writeRow(1, headerFields(t.Columns)); err != nil {
		return err
	}
	for i, rec := range t.Records {
		if err := writeRow(i+2, rec.Values); err != nil {
			return err
		}
	}
	return nil
}

// headerFields protects names that NormalizeColumnName would change, such as
// `media_outlet"`, by wrapping them in escaped quotes it strips again.
func headerFields(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c
		if NormalizeColumnName(c) != c {
			out[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
		}
	}
	return out
}

// WriteFile writes t to path. The table goes to a temporary file in the same
// directory first and is renamed into place only once complete, so a failed
// write never leaves a partial file at path.
func WriteFile(path string, t CleanTable, delim rune, codec Codec) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = WriteTable(bw, t, delim, codec); err != nil {
		if ioErr, ok := err.(*IOError); ok {
			ioErr.Path = path
		}
		return err
	}
	if err = bw.Flush(); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: path, Err: err}
	}
	if err = os.Rename(tmpName, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
