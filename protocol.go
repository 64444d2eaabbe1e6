package memkv

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"

	"github.com/skipor/memkv/recycle"
)

const (
	MaxKeySize         = 250
	MaxItemSize        = 128 * (1 << 20) // 128 MB.
	DefaultMaxItemSize = 1 << 20

	Separator = "\r\n"

	SetCommand     = "set"
	AddCommand     = "add"
	ReplaceCommand = "replace"
	GetCommand     = "get"
	GetsCommand    = "gets"
	DeleteCommand  = "delete"

	NoReplyOption = "noreply"

	StoredResponse      = "STORED"
	NotStoredResponse   = "NOT_STORED"
	ValueResponse       = "VALUE"
	EndResponse         = "END"
	DeletedResponse     = "DELETED"
	NotFoundResponse    = "NOT_FOUND"
	ErrorResponse       = "ERROR"
	ClientErrorResponse = "CLIENT_ERROR"
	ServerErrorResponse = "SERVER_ERROR"

	// Implementation specific consts.
	InBufferSize   = 16 * (1 << 10)
	OutBufferSize  = 16 * (1 << 10)
	MaxCommandSize = InBufferSize
)

var (
	ErrTooLargeKey          = errors.New("too large key")
	ErrTooLargeItem         = errors.New("too large item")
	ErrInvalidOption        = errors.New("invalid option")
	ErrTooManyFields        = errors.New("too many fields")
	ErrMoreFieldsRequired   = errors.New("more fields required")
	ErrTooLargeCommand      = errors.New("command length is too big")
	ErrEmptyCommand         = errors.New("empty command")
	ErrFieldsParseError     = errors.New("fields parse error")
	ErrInvalidLineSeparator = errors.New("invalid line separator")
	ErrInvalidCharInKey     = errors.New("key contains invalid characters")

	separatorBytes = []byte(Separator)
)

// storeMeta is parsed set, add and replace command line.
// Flags and exptime are validated, but not stored.
type storeMeta struct {
	Key     []byte
	Flags   uint32
	Exptime int64
	Bytes   int
}

func isInvalidFieldChar(b byte) bool {
	return b <= ' ' || b == 127
}

func checkKey(p []byte) error {
	if len(p) > MaxKeySize {
		return stackerr.Wrap(ErrTooLargeKey)
	}
	for _, b := range p {
		if isInvalidFieldChar(b) {
			return stackerr.Wrap(ErrInvalidCharInKey)
		}
	}
	return nil
}

// WARN: returned key points into fields memory.
func parseStoreFields(fields [][]byte) (m storeMeta, noreply bool, err error) {
	const extraRequired = 3
	var extra [][]byte
	m.Key, extra, noreply, err = parseKeyFields(fields, extraRequired)
	if err != nil {
		return
	}
	err = checkKey(m.Key)
	if err != nil {
		return
	}
	var flags, size uint64
	flags, err = strconv.ParseUint(string(extra[0]), 10, 32)
	if err == nil {
		m.Exptime, err = strconv.ParseInt(string(extra[1]), 10, 64)
	}
	if err == nil {
		size, err = strconv.ParseUint(string(extra[2]), 10, 32)
	}
	if err != nil {
		err = stackerr.Newf("%s: %s", ErrFieldsParseError, err)
		return
	}
	m.Flags = uint32(flags)
	if size > MaxItemSize {
		err = stackerr.Wrap(ErrTooLargeItem)
		return
	}
	m.Bytes = int(size)
	return
}

func parseKeyFields(fields [][]byte, extraRequired int) (key []byte, extra [][]byte, noreply bool, err error) {
	if len(fields) < 1+extraRequired {
		err = stackerr.Wrap(ErrMoreFieldsRequired)
		return
	}
	key = fields[0]
	extra = fields[1:][:extraRequired]
	options := fields[1:][extraRequired:]
	const maxOptions = 1
	if len(options) > maxOptions {
		err = stackerr.Wrap(ErrTooManyFields)
		return
	}
	if len(options) != 0 {
		if string(options[0]) != NoReplyOption {
			err = stackerr.Wrap(ErrInvalidOption)
			return
		}
		noreply = true
	}
	return
}

type reader struct {
	*bufio.Reader
	pool *recycle.Pool
}

func newReader(r io.Reader, p *recycle.Pool) reader {
	return reader{
		Reader: bufio.NewReaderSize(r, InBufferSize),
		pool:   p,
	}
}

// WARN: returned byte slices points into read buffer and invalidated after next read.
func (r reader) readCommand() (command []byte, fields [][]byte, clientErr, err error) {
	var lineWithSeparator []byte
	// We accept only "\r\n" separator, so can't use ReadLine here.
	lineWithSeparator, err = r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		clientErr = stackerr.Wrap(ErrTooLargeCommand)
		err = r.discardCommand()
		return
	}
	if err == io.EOF {
		if len(lineWithSeparator) != 0 {
			err = stackerr.Wrap(io.ErrUnexpectedEOF)
		}
		return
	}
	if err != nil {
		err = stackerr.Wrap(err)
		return
	}
	if !bytes.HasSuffix(lineWithSeparator, separatorBytes) {
		clientErr = stackerr.Wrap(ErrInvalidLineSeparator)
		return
	}
	line := bytes.TrimSuffix(lineWithSeparator, separatorBytes)
	split := bytes.Fields(line)
	if len(split) == 0 {
		clientErr = stackerr.Wrap(ErrEmptyCommand)
		return
	}
	command = split[0]
	fields = split[1:]
	return
}

// readDataBlock reads data block and separator after it.
// Returned data is got from pool, and should be put back after use.
func (r reader) readDataBlock(size int) (data []byte, clientErr, err error) {
	data, err = r.pool.Read(r, size)
	if err != nil {
		err = stackerr.Wrap(err)
		return
	}
	defer func() {
		if clientErr != nil || err != nil {
			r.pool.Put(data)
			data = nil
		}
	}()
	var sep []byte
	sep, err = r.ReadSlice('\n')
	if err != nil {
		err = stackerr.Wrap(err)
		return
	}
	if !bytes.Equal(sep, separatorBytes) {
		clientErr = stackerr.Wrap(ErrInvalidLineSeparator)
	}
	return
}

// discardCommand discard all input until next separator.
func (r reader) discardCommand() error {
	for {
		lineWithSeparator, err := r.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return err
		}
		if !bytes.HasSuffix(lineWithSeparator, separatorBytes) {
			continue
		}
		return nil
	}
}
