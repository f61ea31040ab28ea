// Package errkind holds the flat error taxonomy shared by every layer of
// the driver: the SPI block device, the block cache, and the FAT32 engine
// all surface failures as a Kind, optionally wrapped with extra context.
//
// A single flat enum (rather than one error type per package) is
// deliberate: spec §7 calls for "a single ErrorKind on failure", and
// callers embedded deep in a retry ladder need to switch on the kind
// without caring which layer produced it.
package errkind

import "fmt"

// Kind is one value from the flat error taxonomy. It implements the error
// interface directly so a bare Kind can be returned and compared with
// errors.Is, in the manner of the teacher's fileResult.
type Kind int

const (
	// Device-layer kinds (SPI block device, spec §4.B/§4.E).
	Reset Kind = iota + 1
	EnableCRC
	Init
	BlockLength
	CardUninit
	NullBuffer
	TooFar
	Timeout
	CRC
	CacheFailure
	Unknown

	// Filesystem-layer kinds (FAT32 engine, spec §4.D).
	MBR
	NoFAT32
	VolumeID
	FSNotMounted
	ClusterLookup
	AtRoot
	NotFound
	NotDir
	EndOfDir
	NotFile
	NotOpen
	SeekTooFar
	AlreadyExists
	FileReadOnly
	Full
	InvalidName
	NotEmpty
	AlreadyOpen
	TooManyFiles
	BadFileID
)

var names = map[Kind]string{
	Reset:         "RESET",
	EnableCRC:     "ENABLE_CRC",
	Init:          "INIT",
	BlockLength:   "BLOCK_LENGTH",
	CardUninit:    "CARD_UNINIT",
	NullBuffer:    "NULL_BUFFER",
	TooFar:        "TOO_FAR",
	Timeout:       "TIMEOUT",
	CRC:           "CRC",
	CacheFailure:  "CACHE_FAILURE",
	Unknown:       "UNKNOWN",
	MBR:           "MBR",
	NoFAT32:       "NO_FAT32",
	VolumeID:      "VOLUME_ID",
	FSNotMounted:  "FS_NOT_MOUNTED",
	ClusterLookup: "CLUSTER_LOOKUP",
	AtRoot:        "AT_ROOT",
	NotFound:      "NOT_FOUND",
	NotDir:        "NOT_DIR",
	EndOfDir:      "END_OF_DIR",
	NotFile:       "NOT_FILE",
	NotOpen:       "NOT_OPEN",
	SeekTooFar:    "SEEK_TOO_FAR",
	AlreadyExists: "ALREADY_EXISTS",
	FileReadOnly:  "FILE_READ_ONLY",
	Full:          "FULL",
	InvalidName:   "INVALID_NAME",
	NotEmpty:      "NOT_EMPTY",
	AlreadyOpen:   "ALREADY_OPEN",
	TooManyFiles:  "TOO_MANY_FILES",
	BadFileID:     "BAD_FILE_ID",
}

// String returns the taxonomy token, e.g. "NOT_FOUND" for NotFound.
func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("errkind.Kind(%d)", int(k))
}

// Error implements the error interface so a bare Kind can be returned from
// any operation.
func (k Kind) Error() string { return k.String() }

// WithMessage annotates the kind with a human-readable message, keeping
// the kind available through errors.Is/errors.As.
func (k Kind) WithMessage(msg string) error {
	return &wrapped{kind: k, message: msg}
}

// Wrap annotates the kind with an underlying cause, keeping both the kind
// and cause available through errors.Is/errors.As/errors.Unwrap.
func (k Kind) Wrap(cause error) error {
	return &wrapped{kind: k, cause: cause}
}

type wrapped struct {
	kind    Kind
	message string
	cause   error
}

func (w *wrapped) Error() string {
	switch {
	case w.message != "" && w.cause != nil:
		return fmt.Sprintf("%s: %s: %s", w.kind, w.message, w.cause)
	case w.message != "":
		return fmt.Sprintf("%s: %s", w.kind, w.message)
	case w.cause != nil:
		return fmt.Sprintf("%s: %s", w.kind, w.cause)
	default:
		return w.kind.String()
	}
}

func (w *wrapped) Unwrap() error { return w.cause }

// Is reports whether target is the same Kind, so errors.Is(err, errkind.CRC)
// works whether err is a bare Kind or a *wrapped built on top of one.
func (w *wrapped) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == w.kind
}

// Of extracts the Kind carried by err, if any. Works for a bare Kind or a
// wrapped one built by WithMessage/Wrap.
func Of(err error) (Kind, bool) {
	switch e := err.(type) {
	case Kind:
		return e, true
	case *wrapped:
		return e.kind, true
	default:
		return 0, false
	}
}
