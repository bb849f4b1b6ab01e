package unarc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Microsoft Cabinet wire format (all integers little-endian):
//
//	CFHEADER:
//	  signature[4] = "MSCF"
//	  reserved     = uint32
//	  cbCabinet    = uint32  total cabinet size, must match the stream
//	  reserved     = uint32
//	  coffFiles    = uint32  absolute offset of the first CFFILE
//	  reserved     = uint32
//	  version      = uint8 minor, uint8 major  (3,1 supported)
//	  cFolders     = uint16
//	  cFiles       = uint16
//	  flags        = uint16
//	  setID        = uint16
//	  iCabinet     = uint16
//	  [flags&4] cbCFHeader uint16, cbCFFolder uint8, cbCFData uint8,
//	            then cbCFHeader reserved bytes
//	  [flags&1] previous cabinet name, previous disk name (NUL-terminated)
//	  [flags&2] next cabinet name, next disk name (NUL-terminated)
//	CFFOLDER (cFolders times):
//	  coffCabStart uint32, cCFData uint16, typeCompress uint16,
//	  then cbCFFolder reserved bytes
//	CFFILE (cFiles times, starting at coffFiles):
//	  cbFile uint32, uoffFolderStart uint32, iFolder uint16,
//	  date uint16, time uint16, attribs uint16,
//	  name (NUL-terminated; UTF-16 when attribs&0x80)
//	CFDATA (per folder, cCFData times, starting at coffCabStart):
//	  csum uint32 (unchecked), cbData uint16, cbUncomp uint16,
//	  then cbCFData reserved bytes, then cbData payload bytes
const (
	cabSignature = "MSCF"

	cabVersionMinor = 3
	cabVersionMajor = 1

	cabFlagPrevCabinet    = 0x0001
	cabFlagNextCabinet    = 0x0002
	cabFlagReservePresent = 0x0004

	cabAttrNameIsUTF = 0x0080

	// Folder index sentinels for entries continued across cabinets in a
	// multi-cabinet set. Such entries are skipped.
	cabFolderContinuedFromPrev    = 0xFFFD
	cabFolderContinuedToNext      = 0xFFFE
	cabFolderContinuedPrevAndNext = 0xFFFF
)

// Folder compression schemes. Only None and MSZIP are decoded.
const (
	cabCompressNone    = 0
	cabCompressMSZIP   = 1
	cabCompressQuantum = 2
	cabCompressLZX     = 3
)

// mszipWindow is the deflate history window MSZIP folders carry across
// their data blocks.
const mszipWindow = 32 << 10

// CabArchive is an Archive decoded from a Microsoft Cabinet stream.
type CabArchive struct {
	*keyedArchive
}

// cabFolder is one CFFOLDER record.
type cabFolder struct {
	dataOff   int64
	numBlocks int
	compress  uint16
}

// cabFile is one CFFILE record, minus the entries skipped for
// multi-cabinet continuation.
type cabFile struct {
	name      string
	size      int64
	folderOff int64
	folder    int
}

// OpenCab decodes a Microsoft Cabinet stream into an Archive.
//
// Folders compressed with Quantum or LZX and cabinets belonging to
// multi-cabinet sets fail with ErrUnsupported (entries continued
// into neighboring cabinets are skipped rather than failing). MSZIP
// data blocks are inflated with the folder's history window preserved
// across blocks.
func OpenCab(r io.ReadSeeker, opts ...Option) (*CabArchive, error) {
	cfg := newConfig(opts)
	size, err := streamSize(r)
	if err != nil {
		return nil, err
	}
	cr := &leReader{r: r}

	hdr, err := parseCabHeader(cr, size)
	if err != nil {
		return nil, err
	}
	folders, err := parseCabFolders(cr, hdr)
	if err != nil {
		return nil, err
	}
	files, err := parseCabFiles(cr, hdr)
	if err != nil {
		return nil, err
	}

	a, err := newKeyedArchive(cfg, len(files))
	if err != nil {
		return nil, err
	}
	log := cfg.log()
	for fi, folder := range folders {
		run, err := decodeCabFolder(cr, folder, hdr.dataReserve)
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Debug("decoded cabinet folder", "folder", fi, "blocks", folder.numBlocks, "bytes", len(run))
		for _, f := range files {
			if f.folder != fi {
				continue
			}
			if f.size > cfg.maxFileSize {
				a.Close()
				return nil, fmt.Errorf("%w: file %q is %d bytes", ErrEntryTooLarge, f.name, f.size)
			}
			end := f.folderOff + f.size
			if f.folderOff < 0 || end > int64(len(run)) {
				a.Close()
				return nil, fmt.Errorf("%w: file %q spans [%d,%d) of a %d-byte folder", ErrCorrupt, f.name, f.folderOff, end, len(run))
			}
			if _, err := a.files.Add(f.name, run[f.folderOff:end]); err != nil {
				a.Close()
				return nil, err
			}
		}
	}

	a.freeze()
	log.Debug("decoded cabinet", "folders", len(folders), "files", a.Len())
	return &CabArchive{keyedArchive: a}, nil
}

// cabHeader carries the parsed CFHEADER plus the per-section reserved
// lengths that shape the records that follow.
type cabHeader struct {
	firstFileOff  int64
	numFolders    int
	numFiles      int
	folderReserve int
	dataReserve   int
}

func parseCabHeader(cr *leReader, streamSize int64) (*cabHeader, error) {
	sig, err := cr.read(4)
	if err != nil {
		return nil, err
	}
	if string(sig) != cabSignature {
		return nil, fmt.Errorf("%w: bad cabinet signature %q", ErrInvalidFormat, sig)
	}
	if err := cr.skip(4); err != nil { // reserved
		return nil, err
	}
	cabSize, err := cr.u32()
	if err != nil {
		return nil, err
	}
	if int64(cabSize) != streamSize {
		return nil, fmt.Errorf("%w: cabinet declares %d bytes, stream has %d", ErrInvalidFormat, cabSize, streamSize)
	}
	if err := cr.skip(4); err != nil { // reserved
		return nil, err
	}
	firstFileOff, err := cr.u32()
	if err != nil {
		return nil, err
	}
	if err := cr.skip(4); err != nil { // reserved
		return nil, err
	}
	verMinor, err := cr.u8()
	if err != nil {
		return nil, err
	}
	verMajor, err := cr.u8()
	if err != nil {
		return nil, err
	}
	if verMinor != cabVersionMinor || verMajor != cabVersionMajor {
		return nil, fmt.Errorf("%w: cabinet version %d.%d", ErrUnsupported, verMajor, verMinor)
	}
	numFolders, err := cr.u16()
	if err != nil {
		return nil, err
	}
	numFiles, err := cr.u16()
	if err != nil {
		return nil, err
	}
	flags, err := cr.u16()
	if err != nil {
		return nil, err
	}
	if err := cr.skip(4); err != nil { // setID, iCabinet
		return nil, err
	}

	hdr := &cabHeader{
		firstFileOff: int64(firstFileOff),
		numFolders:   int(numFolders),
		numFiles:     int(numFiles),
	}
	if flags&cabFlagReservePresent != 0 {
		headerReserve, err := cr.u16()
		if err != nil {
			return nil, err
		}
		folderReserve, err := cr.u8()
		if err != nil {
			return nil, err
		}
		dataReserve, err := cr.u8()
		if err != nil {
			return nil, err
		}
		hdr.folderReserve = int(folderReserve)
		hdr.dataReserve = int(dataReserve)
		if err := cr.skip(int64(headerReserve)); err != nil {
			return nil, err
		}
	}
	// Multi-cabinet sets are unsupported; the neighbor cabinet and disk
	// names are read only far enough to step over them.
	if flags&cabFlagPrevCabinet != 0 {
		if err := cr.skipCStrings(2); err != nil {
			return nil, err
		}
	}
	if flags&cabFlagNextCabinet != 0 {
		if err := cr.skipCStrings(2); err != nil {
			return nil, err
		}
	}
	return hdr, nil
}

func parseCabFolders(cr *leReader, hdr *cabHeader) ([]cabFolder, error) {
	folders := make([]cabFolder, 0, hdr.numFolders)
	for i := 0; i < hdr.numFolders; i++ {
		dataOff, err := cr.u32()
		if err != nil {
			return nil, err
		}
		numBlocks, err := cr.u16()
		if err != nil {
			return nil, err
		}
		typeCompress, err := cr.u16()
		if err != nil {
			return nil, err
		}
		switch compress := typeCompress & 0x000F; compress {
		case cabCompressNone, cabCompressMSZIP:
			folders = append(folders, cabFolder{
				dataOff:   int64(dataOff),
				numBlocks: int(numBlocks),
				compress:  compress,
			})
		case cabCompressQuantum:
			return nil, fmt.Errorf("%w: folder %d uses Quantum compression", ErrUnsupported, i)
		case cabCompressLZX:
			return nil, fmt.Errorf("%w: folder %d uses LZX compression", ErrUnsupported, i)
		default:
			return nil, fmt.Errorf("%w: folder %d compression type %d", ErrCorrupt, i, compress)
		}
		if err := cr.skip(int64(hdr.folderReserve)); err != nil {
			return nil, err
		}
	}
	return folders, nil
}

func parseCabFiles(cr *leReader, hdr *cabHeader) ([]cabFile, error) {
	if err := cr.seekTo(hdr.firstFileOff); err != nil {
		return nil, err
	}
	files := make([]cabFile, 0, hdr.numFiles)
	for i := 0; i < hdr.numFiles; i++ {
		fileSize, err := cr.u32()
		if err != nil {
			return nil, err
		}
		folderOff, err := cr.u32()
		if err != nil {
			return nil, err
		}
		folderIdx, err := cr.u16()
		if err != nil {
			return nil, err
		}
		if err := cr.skip(4); err != nil { // date, time
			return nil, err
		}
		attribs, err := cr.u16()
		if err != nil {
			return nil, err
		}
		var name string
		if attribs&cabAttrNameIsUTF != 0 {
			name, err = cr.utf16String()
		} else {
			name, err = cr.cstring()
		}
		if err != nil {
			return nil, err
		}

		switch folderIdx {
		case cabFolderContinuedFromPrev, cabFolderContinuedToNext, cabFolderContinuedPrevAndNext:
			// Continued across a multi-cabinet set; not supported, skip.
			continue
		}
		if int(folderIdx) >= hdr.numFolders {
			return nil, fmt.Errorf("%w: file %q references folder %d of %d", ErrCorrupt, name, folderIdx, hdr.numFolders)
		}
		files = append(files, cabFile{
			name:      name,
			size:      int64(fileSize),
			folderOff: int64(folderOff),
			folder:    int(folderIdx),
		})
	}
	return files, nil
}

// decodeCabFolder reads a folder's data blocks and returns its full
// decompressed byte run.
func decodeCabFolder(cr *leReader, folder cabFolder, dataReserve int) ([]byte, error) {
	if err := cr.seekTo(folder.dataOff); err != nil {
		return nil, err
	}
	var run []byte
	for b := 0; b < folder.numBlocks; b++ {
		blockOff := cr.off
		if err := cr.skip(4); err != nil { // checksum, unchecked
			return nil, err
		}
		compLen, err := cr.u16()
		if err != nil {
			return nil, err
		}
		uncompLen, err := cr.u16()
		if err != nil {
			return nil, err
		}
		if err := cr.skip(int64(dataReserve)); err != nil {
			return nil, err
		}
		payload, err := cr.read(int(compLen))
		if err != nil {
			return nil, err
		}

		switch folder.compress {
		case cabCompressNone:
			run = append(run, payload...)
		case cabCompressMSZIP:
			if len(payload) < 2 || payload[0] != 'C' || payload[1] != 'K' {
				return nil, fmt.Errorf("%w: data block %d at offset %d lacks the MSZIP CK signature", ErrCorrupt, b, blockOff)
			}
			decoded, err := inflateMSZIP(payload[2:], run, int(uncompLen))
			if err != nil {
				return nil, fmt.Errorf("%w: inflating data block %d at offset %d: %v", ErrCorrupt, b, blockOff, err)
			}
			run = append(run, decoded...)
		}
	}
	return run, nil
}

// inflateMSZIP raw-inflates one MSZIP block payload. history is the
// folder's decompressed run so far; its tail seeds the deflate window so
// blocks that reference earlier folder bytes decode correctly.
func inflateMSZIP(payload, history []byte, sizeHint int) ([]byte, error) {
	var fr io.ReadCloser
	if len(history) > 0 {
		dict := history
		if len(dict) > mszipWindow {
			dict = dict[len(dict)-mszipWindow:]
		}
		fr = flate.NewReaderDict(bytes.NewReader(payload), dict)
	} else {
		fr = flate.NewReader(bytes.NewReader(payload))
	}
	defer fr.Close()

	out := bytes.NewBuffer(make([]byte, 0, sizeHint))
	if _, err := io.Copy(out, fr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
