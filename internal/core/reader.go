package core

import (
	"io"
)

// UploadReader wraps an upload to count the bytes read and to stop reading
// once the size limit is exceeded.
//
// The declared size of a multipart file can be wrong or absent, so the limit
// is enforced on the bytes actually read.
type UploadReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // declared size, 0 if unknown
	Limit     int64 // 0 for no limit
}

// NewUploadReader creates an upload reader. total is the declared size and
// limit the maximum number of bytes accepted.
func NewUploadReader(r io.Reader, total, limit int64) *UploadReader {
	return &UploadReader{
		reader: r,
		Total:  total,
		Limit:  limit,
	}
}

// Read implements io.Reader. After Limit bytes it returns ErrFileTooLarge if
// the upload has more to give, and the underlying error otherwise.
func (r *UploadReader) Read(p []byte) (int, error) {
	if r.Limit > 0 {
		remaining := r.Limit - r.BytesRead
		if remaining <= 0 {
			var extra [1]byte
			n, err := r.reader.Read(extra[:])
			if n > 0 {
				return 0, ErrFileTooLarge
			}
			return 0, err
		}
		if int64(len(p)) > remaining {
			p = p[:remaining]
		}
	}

	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *UploadReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	if r.BytesRead >= r.Total {
		return 100
	}
	return int(r.BytesRead * 100 / r.Total)
}
