// Package pager implements the page-based storage substrate for pagesql: a
// fixed-size page abstraction, a single-file Pager, and a pinning Buffer
// Pool with LRU-by-counter eviction.
//
// The storage format is a sequence of 4096-byte pages. Page 0 is reserved
// (an unused empty leaf, kept for parity with the original design's root
// tree slot) and page 1 is the Catalog (see internal/catalog). Every page
// carries a 32-byte header with a type tag, an id, a cell/key count, and a
// CRC32 checksum; recovery assumes the file is read on the machine that
// wrote it.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// PageSize is the fixed page size in bytes.
	PageSize = 4096

	// PageHeaderSize is the size of the common page header in bytes.
	// Layout:
	//   [0]     Type            (1 byte)
	//   [1]     Flags           (1 byte)
	//   [2:4]   Reserved        (2 bytes)
	//   [4:8]   ID              (4 bytes, uint32 LE)
	//   [8:12]  NumCells        (4 bytes, uint32 LE)
	//   [12:16] FreeSpaceOffset (4 bytes, uint32 LE)
	//   [16:20] CRC32           (4 bytes, uint32 LE)
	//   [20:32] Reserved        (12 bytes)
	PageHeaderSize = 32

	// InvalidPageID represents a null/invalid page pointer.
	InvalidPageID PageID = 0
)

// PageType identifies the kind of data stored in a page.
type PageType uint8

const (
	PageTypeInternal PageType = 0x00
	PageTypeLeaf     PageType = 0x01
	PageTypeMetadata PageType = 0x02
	PageTypeOverflow PageType = 0x03
)

// String returns a human-readable label for the page type.
func (pt PageType) String() string {
	switch pt {
	case PageTypeInternal:
		return "Internal"
	case PageTypeLeaf:
		return "Leaf"
	case PageTypeMetadata:
		return "Metadata"
	case PageTypeOverflow:
		return "Overflow"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// PageID is a 32-bit page identifier. File offset of page p is p*PageSize.
type PageID uint32

// LSN is a monotonically increasing Log Sequence Number.
type LSN uint64

// TxID is a transaction identifier, monotonic for the process lifetime.
type TxID uint32

// PageHeader is the 32-byte header present at the start of every page.
type PageHeader struct {
	Type            PageType
	Flags           uint8
	Reserved        uint16
	ID              PageID
	NumCells        uint32 // num_keys for B+Tree pages, num_tables for the catalog
	FreeSpaceOffset uint32
	CRC             uint32
}

// MarshalHeader writes a PageHeader into the first PageHeaderSize bytes of buf.
func MarshalHeader(h *PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("pager: buffer too small for PageHeader")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Reserved)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint32(buf[8:12], h.NumCells)
	binary.LittleEndian.PutUint32(buf[12:16], h.FreeSpaceOffset)
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC)
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) PageHeader {
	var h PageHeader
	h.Type = PageType(buf[0])
	h.Flags = buf[1]
	h.Reserved = binary.LittleEndian.Uint16(buf[2:4])
	h.ID = PageID(binary.LittleEndian.Uint32(buf[4:8]))
	h.NumCells = binary.LittleEndian.Uint32(buf[8:12])
	h.FreeSpaceOffset = binary.LittleEndian.Uint32(buf[12:16])
	h.CRC = binary.LittleEndian.Uint32(buf[16:20])
	return h
}

// crcTable is the CRC32 (Castagnoli) table used throughout.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputePageCRC computes the CRC32-C of a full page, treating the CRC
// field (bytes 16..20) as zero during computation.
func ComputePageCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:16])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[20:])
	return h.Sum32()
}

// SetPageCRC computes and writes the CRC into the page header.
func SetPageCRC(page []byte) {
	c := ComputePageCRC(page)
	binary.LittleEndian.PutUint32(page[16:20], c)
}

// VerifyPageCRC checks the CRC32 checksum of a page. A fresh all-zero page
// (CRC field 0, computed CRC of all-zero bytes also happens to not be 0 in
// general, so this only accepts pages that were actually written through
// SetPageCRC) fails verification, which is intentional: callers must
// initialize a page before trusting its contents.
func VerifyPageCRC(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[16:20])
	computed := ComputePageCRC(page)
	if stored != computed {
		pid := PageID(binary.LittleEndian.Uint32(page[4:8]))
		return fmt.Errorf("pager: CRC mismatch on page %d: stored=%08x computed=%08x", pid, stored, computed)
	}
	return nil
}

// NewPage allocates a zeroed PageSize buffer and writes an initialized
// header for the given type and id. Callers of B+Tree-specific page layouts
// (see internal/btree) write their own body fields after this header and
// must call SetPageCRC before the page leaves the buffer pool dirty.
func NewPage(pt PageType, id PageID) []byte {
	buf := make([]byte, PageSize)
	h := &PageHeader{Type: pt, ID: id}
	MarshalHeader(h, buf)
	SetPageCRC(buf)
	return buf
}
