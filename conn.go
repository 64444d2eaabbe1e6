package memkv

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/facebookgo/stackerr"
	"github.com/pkg/errors"

	"github.com/skipor/memkv/cache"
	"github.com/skipor/memkv/internal/util"
	"github.com/skipor/memkv/log"
	"github.com/skipor/memkv/recycle"
)

// ConnMeta is data shared between connections.
type ConnMeta struct {
	Storage     cache.Storage
	Pool        *recycle.Pool
	MaxItemSize int
}

func (m *ConnMeta) init() {
	if m.Pool == nil {
		m.Pool = recycle.NewPool()
	}
	if m.MaxItemSize == 0 {
		m.MaxItemSize = DefaultMaxItemSize
	}
}

type conn struct {
	reader
	*bufio.Writer
	closer io.Closer
	*ConnMeta
	log log.Logger
	// keyBuf holds copy of stored key, while data block is read.
	keyBuf []byte
}

func newConn(l log.Logger, m *ConnMeta, rwc io.ReadWriteCloser) *conn {
	return &conn{
		reader:   newReader(rwc, m.Pool),
		Writer:   bufio.NewWriterSize(rwc, OutBufferSize),
		closer:   rwc,
		ConnMeta: m,
		log:      l,
	}
}

func (c *conn) serve() {
	c.log.Debug("Serve connection.")
	defer func() {
		if r := recover(); r != nil {
			c.serverError(stackerr.Newf("Panic: %s", r))
			c.Close()
			panic(r)
		}
		c.Close()
		c.log.Debug("Connection closed.")
	}()

	err := c.loop()
	if err != nil {
		c.serverError(err)
	}
}

func (c *conn) Close() error {
	c.Flush()
	return c.closer.Close()
}

func (c *conn) loop() error {
	for {
		command, fields, clientErr, err := c.readCommand()
		if err != nil {
			if err == io.EOF {
				// Just client disconnect. Ok.
				return nil
			}
			return stackerr.Wrap(err)
		}
		if clientErr == nil {
			c.log.Debugf("Command: %s.", command)
			switch string(command) { // No allocation.
			case GetCommand, GetsCommand:
				clientErr, err = c.get(fields)
			case SetCommand, AddCommand, ReplaceCommand:
				clientErr, err = c.store(command, fields)
			case DeleteCommand:
				clientErr, err = c.delete(fields)
			default:
				c.log.Warnf("Unexpected command: %s.", command)
				err = c.sendResponse(ErrorResponse)
			}
		}
		if clientErr != nil && err == nil {
			err = c.sendClientError(clientErr)
		}
		if err != nil {
			return err
		}
	}
}

func (c *conn) get(keys [][]byte) (clientErr, err error) {
	if len(keys) == 0 {
		clientErr = stackerr.Wrap(ErrMoreFieldsRequired)
		return
	}
	for _, key := range keys {
		clientErr = checkKey(key)
		if clientErr != nil {
			return
		}
	}
	var found int
	for _, key := range keys {
		value, ok := c.Storage.Get(key)
		if !ok {
			continue
		}
		found++
		c.log.Debugf("Sending value of %s.", key)
		c.WriteString(ValueResponse)
		c.WriteByte(' ')
		c.Write(key)
		c.WriteString(" 0 ")
		c.WriteString(strconv.Itoa(len(value)))
		c.WriteString(Separator)
		c.Write(value)
		_, err = c.WriteString(Separator)
		if err != nil {
			err = stackerr.Wrap(err)
			return
		}
	}
	c.log.Debugf("Found %v of %v values.", found, len(keys))
	err = c.sendResponse(EndResponse)
	return
}

func (c *conn) store(command []byte, fields [][]byte) (clientErr, err error) {
	var m storeMeta
	var noreply bool
	m, noreply, clientErr = parseStoreFields(fields)
	if clientErr != nil {
		err = c.discardCommand()
		return
	}
	if m.Bytes > c.MaxItemSize {
		clientErr = stackerr.Wrap(ErrTooLargeItem)
		_, err = c.Discard(m.Bytes + len(Separator))
		err = stackerr.Wrap(err)
		return
	}
	// Data block read invalidates command and fields.
	var op func(key, value []byte) bool
	switch string(command) {
	case SetCommand:
		op = c.Storage.Put
	case AddCommand:
		op = c.Storage.PutIfAbsent
	case ReplaceCommand:
		op = c.Storage.Set
	default:
		panic("unexpected store command " + string(command))
	}
	c.keyBuf = append(c.keyBuf[:0], m.Key...)
	m.Key = c.keyBuf

	var data []byte
	data, clientErr, err = c.readDataBlock(m.Bytes)
	if err != nil || clientErr != nil {
		return
	}
	defer c.Pool.Put(data)

	stored := op(m.Key, data)

	if noreply {
		err = c.Flush()
		return
	}
	if stored {
		err = c.sendResponse(StoredResponse)
	} else {
		err = c.sendResponse(NotStoredResponse)
	}
	return
}

func (c *conn) delete(fields [][]byte) (clientErr, err error) {
	const extraRequired = 0
	var key []byte
	var noreply bool
	key, _, noreply, clientErr = parseKeyFields(fields, extraRequired)
	if clientErr != nil {
		return
	}
	clientErr = checkKey(key)
	if clientErr != nil {
		return
	}

	deleted := c.Storage.Delete(key)

	if noreply {
		err = c.Flush()
		return
	}
	var response string
	if deleted {
		response = DeletedResponse
	} else {
		response = NotFoundResponse
	}
	err = c.sendResponse(response)
	return
}

func (c *conn) serverError(err error) {
	cause := util.Unwrap(err)
	if errors.Is(cause, net.ErrClosed) {
		c.log.Debug("Connection closed by server.")
		return
	}
	c.log.Error("Server error: ", err)
	if cause == io.ErrUnexpectedEOF {
		return
	}
	c.sendResponse(fmt.Sprintf("%s %s", ServerErrorResponse, cause))
}

func (c *conn) sendClientError(err error) error {
	c.log.Warn("Client error: ", err)
	err = util.Unwrap(err)
	return c.sendResponse(fmt.Sprintf("%s %s", ClientErrorResponse, err))
}

func (c *conn) sendResponse(res string) error {
	c.WriteString(res)
	c.WriteString(Separator)
	return c.Flush()
}

func (c *conn) Flush() error {
	return stackerr.Wrap(c.Writer.Flush())
}
