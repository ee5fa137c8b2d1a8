package proto

import (
	"bufio"
)

// limitedReader wraps a buffered reader and returns ErrSentenceTooLarge once
// more than the configured number of bytes has been consumed.
type limitedReader struct {
	r         *bufio.Reader
	remaining int64
}

func newLimitedReader(r *bufio.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, ErrSentenceTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err = l.r.Read(p)
	l.remaining -= int64(n)
	return
}

func (l *limitedReader) ReadByte() (byte, error) {
	if l.remaining <= 0 {
		return 0, ErrSentenceTooLarge
	}
	b, err := l.r.ReadByte()
	if err == nil {
		l.remaining--
	}
	return b, err
}

// reset restores the budget for the next sentence. The bufio.Reader keeps
// its buffered bytes, so reading resumes exactly where the last sentence ended.
func (l *limitedReader) reset(limit int64) {
	l.remaining = limit
}
