package sst

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type (
	BlockStat struct {
		FirstKey []byte
		// where in the file this block starts
		Offset uint64
		// bytes the block takes in the file (post compression)
		BlockSize uint64
		// size after decompression, used to size the decompression target
		OriginalSize uint64
		// number of rows, puts and deletes
		Rows uint64
		// xxhash of the block bytes as stored in the file
		Hash uint64
	}
)

// key length prefix plus the five u64 fields
const minBlockStatLength = 2 + 5*8

// toBytes encodes the stat as it is stored in the meta block:
// u16 key len | key | u64 offset | u64 block size | u64 original size | u64 rows | u64 hash
func (bs BlockStat) toBytes() []byte {
	blockBytes := bytes.Buffer{}

	blockBytes.Write(binary.LittleEndian.AppendUint16([]byte{}, uint16(len(bs.FirstKey))))
	blockBytes.Write(bs.FirstKey)

	blockBytes.Write(binary.LittleEndian.AppendUint64([]byte{}, bs.Offset))
	blockBytes.Write(binary.LittleEndian.AppendUint64([]byte{}, bs.BlockSize))
	blockBytes.Write(binary.LittleEndian.AppendUint64([]byte{}, bs.OriginalSize))
	blockBytes.Write(binary.LittleEndian.AppendUint64([]byte{}, bs.Rows))
	blockBytes.Write(binary.LittleEndian.AppendUint64([]byte{}, bs.Hash))

	return blockBytes.Bytes()
}

func blockStatFromReader(r *bytes.Reader) (BlockStat, error) {
	var bs BlockStat
	keyLen, err := readUint16(r)
	if err != nil {
		return bs, fmt.Errorf("error reading block first key length: %w", err)
	}
	bs.FirstKey, err = readMetaBytes(r, uint64(keyLen))
	if err != nil {
		return bs, fmt.Errorf("error reading block first key: %w", err)
	}
	for _, field := range []*uint64{&bs.Offset, &bs.BlockSize, &bs.OriginalSize, &bs.Rows, &bs.Hash} {
		if *field, err = readUint64(r); err != nil {
			return bs, fmt.Errorf("error reading block stat: %w", err)
		}
	}
	return bs, nil
}
