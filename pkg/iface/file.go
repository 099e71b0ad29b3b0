package iface

import (
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"os"
	"sync"
)

// fileRecordHeader is the fixed-size length prefix written before every
// frame in a file-encapsulated interface (spec §4.2): a shared regular file
// used as a poor man's broadcast medium in tests, with each writer
// appending length-prefixed records and every reader polling from its own
// offset.
const fileRecordHeader = 4 // u32 length prefix
const maxFileRecord = 1 << 16

// ErrFileRecordTooLarge guards against a corrupt length prefix walking Recv
// off into an unbounded allocation.
var ErrFileRecordTooLarge = errors.New("iface: file record exceeds maximum size")

// FileTransport is a test/simulation transport: every Send appends a
// length-prefixed record to a shared file, and Recv tails it from the
// reader's own offset, optionally dropping records to emulate lossy links.
type FileTransport struct {
	mu       sync.Mutex
	f        *os.File
	readAt   int64
	dropRate float64 // [0,1), fraction of records silently discarded on send
}

// OpenFileTransport opens (creating if necessary) path as a shared record
// file. dropRate injects loss on the send side: a dropRate of 0.1 discards
// roughly one record in ten.
func OpenFileTransport(path string, dropRate float64) (*FileTransport, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &FileTransport{f: f, dropRate: dropRate}, nil
}

func (ft *FileTransport) Send(b []byte) error {
	if ft.dropRate > 0 && rand.Float64() < ft.dropRate {
		return nil
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if _, err := ft.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	var hdr [fileRecordHeader]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := ft.f.Write(hdr[:]); err != nil {
		return err
	}
	_, err := ft.f.Write(b)
	return err
}

func (ft *FileTransport) Recv() ([]byte, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var hdr [fileRecordHeader]byte
	n, err := ft.f.ReadAt(hdr[:], ft.readAt)
	if err != nil {
		if err == io.EOF && n == 0 {
			return nil, io.EOF
		}
		if n < fileRecordHeader {
			return nil, io.EOF
		}
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > maxFileRecord {
		return nil, ErrFileRecordTooLarge
	}

	buf := make([]byte, length)
	if length > 0 {
		if _, err := ft.f.ReadAt(buf, ft.readAt+fileRecordHeader); err != nil {
			return nil, io.EOF
		}
	}
	ft.readAt += int64(fileRecordHeader) + int64(length)
	return buf, nil
}

func (ft *FileTransport) Close() error { return ft.f.Close() }

// FD returns -1: a file has no readiness to poll, so the event loop never
// calls Recv on a file transport by itself.
func (ft *FileTransport) FD() int { return -1 }
