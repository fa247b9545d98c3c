//go:build !linux

package socket

// configureSocket runs on the raw socket before connect. Only the options
// the net package applies after connect are available here.
func configureSocket(fd uintptr, network string, opts DialOptions) error {
	if opts.BoundInterface > 0 {
		return ErrUnsupported
	}
	return nil
}
