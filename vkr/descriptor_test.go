package vkr

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buffer := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buffer, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})), buffer
}

func TestCalcNumMipLevels(t *testing.T) {
	require.Equal(t, 1, CalcNumMipLevels(1, 1))
	require.Equal(t, 9, CalcNumMipLevels(256, 256))
	require.Equal(t, 9, CalcNumMipLevels(256, 64))
	require.Equal(t, 11, CalcNumMipLevels(128, 1024))
	require.Equal(t, 1, CalcNumMipLevels(0, 0))
}

func TestValidateNormalizesDimensions(t *testing.T) {
	logger, _ := captureLogger()
	desc, err := TextureDescriptor{
		Type:         TextureType2D,
		Format:       FormatRGBA8,
		Width:        16,
		NumMipLevels: 1,
		Usage:        UsageSampled,
	}.Validate(logger)
	require.NoError(t, err)

	require.Equal(t, 16, desc.Width)
	require.Equal(t, 1, desc.Height)
	require.Equal(t, 1, desc.Depth)
	require.Equal(t, 1, desc.NumLayers)
	require.Equal(t, 1, desc.NumSamples)
}

func TestValidateZeroMipLevelsWarnsAndSubstitutesOne(t *testing.T) {
	logger, logs := captureLogger()
	desc, err := TextureDescriptor{
		Type:   TextureType2D,
		Format: FormatRGBA8,
		Width:  16,
		Height: 16,
		Usage:  UsageSampled,
	}.Validate(logger)
	require.NoError(t, err)

	require.Equal(t, 1, desc.NumMipLevels)
	require.Contains(t, logs.String(), "mip level count is not positive")
	require.Contains(t, logs.String(), "level=WARN")
}

func TestValidateNegativeMipLevelsWarnsAndSubstitutesOne(t *testing.T) {
	logger, logs := captureLogger()
	desc, err := TextureDescriptor{
		Type:         TextureType2D,
		Format:       FormatRGBA8,
		Width:        16,
		Height:       16,
		NumMipLevels: -3,
		Usage:        UsageSampled,
	}.Validate(logger)
	require.NoError(t, err)

	require.Equal(t, 1, desc.NumMipLevels)
	require.Contains(t, logs.String(), "mip level count is not positive")
	require.Contains(t, logs.String(), "numMipLevels=-3")
}

func TestValidateEmptyUsageWarnsAndSubstitutesSampled(t *testing.T) {
	logger, logs := captureLogger()
	desc, err := TextureDescriptor{
		Type:         TextureType2D,
		Format:       FormatRGBA8,
		Width:        16,
		Height:       16,
		NumMipLevels: 1,
	}.Validate(logger)
	require.NoError(t, err)

	require.Equal(t, UsageSampled, desc.Usage)
	require.Contains(t, logs.String(), "no usage flags")
}

func TestValidateRejectsUnknownType(t *testing.T) {
	logger, _ := captureLogger()
	_, err := TextureDescriptor{
		Type:         TextureType(99),
		Format:       FormatRGBA8,
		Width:        16,
		Height:       16,
		NumMipLevels: 1,
		Usage:        UsageSampled,
	}.Validate(logger)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnsupportedType))
}

func TestValidateRejectsMultisampledMipChain(t *testing.T) {
	logger, _ := captureLogger()
	_, err := TextureDescriptor{
		Type:         TextureType2D,
		Format:       FormatRGBA8,
		Width:        64,
		Height:       64,
		NumMipLevels: 3,
		NumSamples:   4,
		Usage:        UsageAttachment,
	}.Validate(logger)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidSampleConfiguration))
}

func TestValidateRejectsMultisampled3D(t *testing.T) {
	logger, _ := captureLogger()
	_, err := TextureDescriptor{
		Type:         TextureType3D,
		Format:       FormatRGBA8,
		Width:        64,
		Height:       64,
		Depth:        8,
		NumMipLevels: 1,
		NumSamples:   4,
		Usage:        UsageAttachment,
	}.Validate(logger)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidSampleConfiguration))
}

func TestValidateRejectsOversizedMipChain(t *testing.T) {
	logger, _ := captureLogger()
	_, err := TextureDescriptor{
		Type:         TextureType2D,
		Format:       FormatRGBA8,
		Width:        16,
		Height:       16,
		NumMipLevels: 6,
		Usage:        UsageSampled,
	}.Validate(logger)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMipLevelOutOfRange))
}

func TestValidateAcceptsFullMipChain(t *testing.T) {
	logger, _ := captureLogger()
	desc, err := TextureDescriptor{
		Type:         TextureType2D,
		Format:       FormatRGBA8,
		Width:        256,
		Height:       256,
		NumMipLevels: CalcNumMipLevels(256, 256),
		Usage:        UsageSampled,
	}.Validate(logger)
	require.NoError(t, err)
	require.Equal(t, 9, desc.NumMipLevels)
}
