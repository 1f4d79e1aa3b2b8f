//go:build !linux && !windows

package power

type unavailableSource struct{}

func NewSource() Source {
	return unavailableSource{}
}

func (unavailableSource) Status() (Status, error) {
	return Status{}, ErrUnavailable
}
