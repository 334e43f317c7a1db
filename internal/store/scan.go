package store

import (
	"io"

	"github.com/sirupsen/logrus"

	"packfs/internal/index"
	"packfs/internal/record"
)

// recover walks the backing file from offset 0 and rebuilds the index and the
// tombstone counters. Recovery proceeds in append order, so when the same
// path appears live twice (a crash between appending a replacement and
// tombstoning the old copy) the later record wins and the earlier one is left
// as garbage for the next compaction.
//
// A torn tail, a record whose header or payload runs past end-of-file or does
// not decode, ends the scan: everything before it is kept and the file is
// truncated back to the last good record boundary so appends keep the file a
// gap-free concatenation of records.
func (s *Store) recover() error {
	fileLen := s.file.Size()
	var offset int64

	for offset < fileLen {
		hdr, hdrLen, err := record.ReadHeader(io.NewSectionReader(s.file, offset, fileLen-offset))
		if err != nil {
			if err != io.EOF {
				s.log.WithFields(logrus.Fields{
					"file":   s.file.Path(),
					"offset": offset,
				}).WithError(err).Warn("torn record at tail, truncating")
			}
			return s.file.Truncate(offset)
		}

		payloadOff := offset + hdrLen
		end := payloadOff + int64(hdr.Size)
		if end > fileLen {
			s.log.WithFields(logrus.Fields{
				"file":   s.file.Path(),
				"offset": offset,
				"path":   hdr.Path,
			}).Warn("truncated payload at tail, truncating")
			return s.file.Truncate(offset)
		}

		if hdr.Deleted {
			s.deletedCount++
			s.deletedSize += uint64(hdr.Size)
		} else {
			s.idx.Put(hdr.Path, index.Entry{
				Size:   uint32(hdr.Size),
				Offset: payloadOff,
			})
		}
		offset = end
	}
	return nil
}
