package models

import (
	"encoding/binary"
)

type Loader interface {
	Arch() string
	Bits() int
	ByteOrder() binary.ByteOrder
	OS() string
	Entry() uint64
	Segments() ([]SegmentData, error)
}
