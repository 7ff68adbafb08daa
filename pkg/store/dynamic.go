package store

import "encoding/binary"

// dynamicBlockSize is the payload capacity of one dynamic record;
// values longer than this chain across multiple blocks via NextBlock,
// matching the distilled spec's string/array spillover design.
const dynamicBlockSize = 120

// dynamicRecordSize is {in_use byte, length uint16, next_block uint64,
// payload [dynamicBlockSize]byte}.
const dynamicRecordSize = 1 + 2 + 8 + dynamicBlockSize

// DynamicStore holds variable-length values (long strings, string
// arrays) as chains of fixed-width blocks, the sibling discipline
// distilled spec §6 calls out for property-store spillover
// (`.strings` / `.arrays`).
type DynamicStore struct {
	file  *RecordFile
	alloc *IDAllocator
}

func openDynamicStore(path string, storeID [16]byte) (*DynamicStore, error) {
	rf, err := openRecordFile(path, dynamicRecordSize, magicPropertyStore, storeID, false)
	if err != nil {
		return nil, err
	}
	alloc, err := NewIDAllocator(rf, path+".id")
	if err != nil {
		return nil, err
	}
	return &DynamicStore{file: rf, alloc: alloc}, nil
}

// Put writes data as a chain of dynamic blocks and returns the id of
// the first block.
func (d *DynamicStore) Put(data []byte) (uint64, error) {
	var firstID uint64 = NoID
	var prevID uint64 = NoID

	if len(data) == 0 {
		data = []byte{}
	}

	for offset := 0; offset == 0 || offset < len(data); {
		end := offset + dynamicBlockSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		id, err := d.alloc.Allocate()
		if err != nil {
			return 0, err
		}
		if firstID == NoID {
			firstID = id
		}
		if prevID != NoID {
			if err := d.linkNext(prevID, id); err != nil {
				return 0, err
			}
		}

		buf := make([]byte, dynamicRecordSize)
		buf[0] = 1
		binary.LittleEndian.PutUint16(buf[1:3], uint16(len(chunk)))
		binary.LittleEndian.PutUint64(buf[3:11], NoID)
		copy(buf[11:], chunk)
		if err := d.file.WriteAt(id, buf); err != nil {
			return 0, err
		}

		prevID = id
		offset = end
		if len(chunk) < dynamicBlockSize {
			break
		}
	}
	return firstID, nil
}

func (d *DynamicStore) linkNext(id, next uint64) error {
	buf, err := d.file.ReadAt(id)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[3:11], next)
	return d.file.WriteAt(id, buf)
}

// Get reassembles the full byte value starting at firstBlock.
func (d *DynamicStore) Get(firstBlock uint64) ([]byte, error) {
	var out []byte
	id := firstBlock
	for id != NoID {
		buf, err := d.file.ReadAt(id)
		if err != nil {
			return nil, err
		}
		length := binary.LittleEndian.Uint16(buf[1:3])
		next := binary.LittleEndian.Uint64(buf[3:11])
		out = append(out, buf[11:11+int(length)]...)
		id = next
	}
	return out, nil
}

// Close flushes and closes the underlying record file.
func (d *DynamicStore) Close() error {
	if err := d.alloc.Persist(); err != nil {
		return err
	}
	return d.file.Close()
}
