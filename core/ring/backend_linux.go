//go:build linux

package ring

// Backend names
const (
	BackendUring = "uring"
	BackendEpoll = "epoll"
)

// New creates a queue for the named backend
func New(backend string, entries uint32) (Queue, error) {
	switch backend {
	case BackendUring, "":
		return NewUring(entries)
	case BackendEpoll:
		return NewEpoll(int(entries))
	default:
		return nil, ErrUnknownBackend
	}
}
