package vkr

import "github.com/cockroachdb/errors"

// Error kinds returned by texture creation and upload. Callers
// discriminate with errors.Is; messages carry the specifics.
var (
	ErrUnsupportedType            = errors.New("unsupported texture type")
	ErrInvalidSampleConfiguration = errors.New("invalid sample configuration")
	ErrMipLevelOutOfRange         = errors.New("mip level count out of range")
	ErrAllocationFailed           = errors.New("image allocation failed")
	ErrViewCreationFailed         = errors.New("image view creation failed")
	ErrRangeOutOfBounds           = errors.New("upload range out of bounds")
	ErrUnsupportedOperation       = errors.New("unsupported operation")
)

func markf(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}

func markWrapf(kind error, err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), kind)
}
