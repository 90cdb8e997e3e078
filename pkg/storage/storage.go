package storage

// Store describes the persisted key/value contract the flow relies on, independent of the
// backing provider. Values are plain bytes; a read of an absent key returns an empty value
// and no error, which callers treat as "unset".
type Store interface {
	Close() error
	Write(namespace, key string, value []byte) error
	Read(namespace, key string) ([]byte, error)
	Delete(namespace, key string) error
	DeleteNamespace(namespace string) error
}
