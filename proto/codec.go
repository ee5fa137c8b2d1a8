// Package proto implements the framing layer of the RouterOS API.
//
// A word is a byte string preceded by a variable-length size prefix. A
// sentence is a sequence of words terminated by an empty word. This package
// knows nothing above that: reply markers, attributes and tags are handled by
// the routeros package.
//
// Prefix layout:
//
//	length                 bytes  first byte
//	0x00      - 0x7F       1      0xxxxxxx
//	0x80      - 0x3FFF     2      10xxxxxx
//	0x4000    - 0x1FFFFF   3      110xxxxx
//	0x200000  - 0xFFFFFFF  4      1110xxxx
//	                              1111xxxx reserved
package proto

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// MaxWordLength is the largest word length the prefix scheme can express.
const MaxWordLength = 0x0FFFFFFF

// Limits constrains decoder memory use.
type Limits struct {
	// MaxWordBytes is the largest accepted word. Zero means MaxWordLength.
	MaxWordBytes int
	// MaxSentenceBytes bounds the encoded size of one sentence. Zero means unlimited.
	MaxSentenceBytes int64
}

// DefaultLimits returns the limits used by NewDecoder.
func DefaultLimits() Limits {
	return Limits{
		MaxWordBytes:     1024 * 1024,
		MaxSentenceBytes: 8 * 1024 * 1024,
	}
}

// PrefixLen returns the number of prefix bytes used for a word of length n.
func PrefixLen(n int) (int, error) {
	switch {
	case n < 0:
		return 0, &EncodingError{Length: n}
	case n < 0x80:
		return 1, nil
	case n < 0x4000:
		return 2, nil
	case n < 0x200000:
		return 3, nil
	case n <= MaxWordLength:
		return 4, nil
	default:
		return 0, &EncodingError{Length: n}
	}
}

// AppendLength appends the encoded length prefix of n to dst.
func AppendLength(dst []byte, n int) ([]byte, error) {
	size, err := PrefixLen(n)
	if err != nil {
		return dst, err
	}
	v := uint32(n)
	switch size {
	case 1:
		return append(dst, byte(v)), nil
	case 2:
		v |= 0x8000
		return append(dst, byte(v>>8), byte(v)), nil
	case 3:
		v |= 0xC00000
		return append(dst, byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		v |= 0xE0000000
		return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
	}
}

// AppendWord appends the encoded form of word to dst.
func AppendWord(dst []byte, word string) ([]byte, error) {
	dst, err := AppendLength(dst, len(word))
	if err != nil {
		return dst, err
	}
	return append(dst, word...), nil
}

// EncodeWord returns the encoded form of word.
func EncodeWord(word string) ([]byte, error) {
	size, err := PrefixLen(len(word))
	if err != nil {
		return nil, err
	}
	return AppendWord(make([]byte, 0, size+len(word)), word)
}

// EncodeSentence encodes words followed by the empty terminator word.
// Nothing is returned when any word is too long.
func EncodeSentence(words []string) ([]byte, error) {
	total := 1
	for _, w := range words {
		size, err := PrefixLen(len(w))
		if err != nil {
			return nil, err
		}
		total += size + len(w)
	}

	buf := make([]byte, 0, total)
	for _, w := range words {
		buf, _ = AppendWord(buf, w)
	}
	return append(buf, 0), nil
}

// decodePrefix interprets the first prefix byte. It returns the high bits of
// the length and how many more prefix bytes follow.
func decodePrefix(first byte) (n int, extra int, err error) {
	switch {
	case first&0x80 == 0x00:
		return int(first), 0, nil
	case first&0xC0 == 0x80:
		return int(first & 0x3F), 1, nil
	case first&0xE0 == 0xC0:
		return int(first & 0x1F), 2, nil
	case first&0xF0 == 0xE0:
		return int(first & 0x0F), 3, nil
	default:
		return 0, 0, errors.Wrapf(ErrReservedPrefix, "first byte 0x%02x", first)
	}
}

// byteReader reads single bytes from a reader without buffering ahead.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}

func asByteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &byteReader{r: r}
}

// truncation maps short reads inside a word to ErrTruncated.
func truncation(op string, err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return protocolError(op, ErrTruncated)
	case errors.Is(err, ErrSentenceTooLarge):
		return protocolError(op, err)
	default:
		return err
	}
}

func readWord(r io.Reader, br io.ByteReader, maxWord int) (string, error) {
	first, err := br.ReadByte()
	if err != nil {
		if errors.Is(err, ErrSentenceTooLarge) {
			return "", protocolError("read word", err)
		}
		return "", err
	}

	n, extra, err := decodePrefix(first)
	if err != nil {
		return "", protocolError("read word", err)
	}
	for i := 0; i < extra; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return "", truncation("read word", err)
		}
		n = n<<8 | int(b)
	}

	if maxWord <= 0 {
		maxWord = MaxWordLength
	}
	if n > maxWord {
		return "", protocolError("read word", errors.Wrapf(ErrWordTooLarge, "length %d", n))
	}
	if n == 0 {
		return "", nil
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", truncation("read word", err)
	}
	return string(body), nil
}

func readSentence(r io.Reader, br io.ByteReader, maxWord int) ([]string, error) {
	var words []string
	for {
		w, err := readWord(r, br, maxWord)
		if err != nil {
			if errors.Is(err, io.EOF) && len(words) > 0 {
				return nil, protocolError("read sentence", ErrTruncated)
			}
			return nil, err
		}
		if w == "" {
			return words, nil
		}
		words = append(words, w)
	}
}

// DecodeWord reads one word from r. It returns io.EOF when the stream ends
// before the first prefix byte.
func DecodeWord(r io.Reader) (string, error) {
	return readWord(r, asByteReader(r), MaxWordLength)
}

// DecodeSentence reads words from r until the empty terminator word. The
// terminator is not part of the result. It returns io.EOF when the stream
// ends cleanly between sentences.
func DecodeSentence(r io.Reader) ([]string, error) {
	return readSentence(r, asByteReader(r), MaxWordLength)
}

// Decoder reads sentences from a buffered stream under configured limits.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	reader *limitedReader
	limits Limits
}

// NewDecoder returns a Decoder reading from r with DefaultLimits.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderLimits(r, DefaultLimits())
}

// NewDecoderLimits returns a Decoder reading from r with the given limits.
func NewDecoderLimits(r io.Reader, limits Limits) *Decoder {
	return &Decoder{
		reader: newLimitedReader(bufio.NewReader(r), sentenceBudget(limits)),
		limits: limits,
	}
}

func sentenceBudget(limits Limits) int64 {
	if limits.MaxSentenceBytes <= 0 {
		return 1<<63 - 1
	}
	return limits.MaxSentenceBytes
}

// ReadWord reads a single word.
func (d *Decoder) ReadWord() (string, error) {
	return readWord(d.reader, d.reader, d.limits.MaxWordBytes)
}

// ReadSentence reads one complete sentence, blocking until it has arrived.
func (d *Decoder) ReadSentence() ([]string, error) {
	d.reader.reset(sentenceBudget(d.limits))
	return readSentence(d.reader, d.reader, d.limits.MaxWordBytes)
}

// Encoder writes sentences to a buffered stream.
// An Encoder is not safe for concurrent use.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// WriteSentence encodes words and flushes them as one sentence. Lengths are
// checked before anything is written.
func (e *Encoder) WriteSentence(words []string) error {
	data, err := EncodeSentence(words)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	return e.w.Flush()
}
