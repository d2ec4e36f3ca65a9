package domain

import "go.trai.ch/zerr"

var (
	// ErrNotFound is returned when a requested entity or document does not exist.
	// Reads surface absence as found=false rather than returning this error.
	ErrNotFound = zerr.New("entity not found")

	// ErrTransient marks a remote failure that may succeed when retried.
	ErrTransient = zerr.New("transient remote failure")

	// ErrConflict is returned when a mutation is rejected because an earlier mutation
	// on the same key was rolled back.
	ErrConflict = zerr.New("conflicting mutation rolled back")

	// ErrValidation is returned when a caller supplied ID or payload is malformed.
	ErrValidation = zerr.New("invalid input")

	// ErrInvalidCursor is returned when a feed cursor cannot be decoded.
	ErrInvalidCursor = zerr.New("invalid feed cursor")

	// ErrTooManyIDs is returned when a batched query exceeds the store's id-set limit.
	ErrTooManyIDs = zerr.New("too many ids in batched query")

	// ErrUnknownEntityType is returned for an entity type without a registered collection.
	ErrUnknownEntityType = zerr.New("unknown entity type")

	// ErrUnknownMutationKind is returned when a pending record carries an unknown kind.
	ErrUnknownMutationKind = zerr.New("unknown mutation kind")

	// ErrRemoteTimeout is returned when a remote operation exceeds its deadline.
	ErrRemoteTimeout = zerr.New("remote operation timed out")

	// ErrStoreCreateFailed is returned when a local store cannot be opened or created.
	ErrStoreCreateFailed = zerr.New("failed to create local store")

	// ErrStoreReadFailed is returned when a local record cannot be read.
	ErrStoreReadFailed = zerr.New("failed to read local record")

	// ErrStoreWriteFailed is returned when a local record cannot be written.
	ErrStoreWriteFailed = zerr.New("failed to write local record")

	// ErrStoreDeleteFailed is returned when a local record cannot be deleted.
	ErrStoreDeleteFailed = zerr.New("failed to delete local record")

	// ErrMarshalFailed is returned when a record cannot be encoded.
	ErrMarshalFailed = zerr.New("failed to marshal record")

	// ErrUnmarshalFailed is returned when a record cannot be decoded.
	ErrUnmarshalFailed = zerr.New("failed to unmarshal record")

	// ErrRemoteReadFailed is returned when the remote document store rejects a read.
	ErrRemoteReadFailed = zerr.New("failed to read remote document")

	// ErrRemoteWriteFailed is returned when the remote document store rejects a write.
	ErrRemoteWriteFailed = zerr.New("failed to write remote document")

	// ErrRemoteQueryFailed is returned when a batched remote query fails.
	ErrRemoteQueryFailed = zerr.New("failed to query remote documents")

	// ErrConfigReadFailed is returned when the config file cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read config file")

	// ErrConfigParseFailed is returned when the config file cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse config file")

	// ErrInvalidConfig is returned when a config value is out of range or malformed.
	ErrInvalidConfig = zerr.New("invalid configuration")

	// ErrUnsupportedDriver is returned for an unknown storage driver name.
	ErrUnsupportedDriver = zerr.New("unsupported storage driver")

	// ErrClientClosed is returned when a closed client is used.
	ErrClientClosed = zerr.New("client closed")
)
