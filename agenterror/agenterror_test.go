package agenterror_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goadesign/agentcore/agenterror"
)

func TestWrapfPreservesSentinelForErrorsIs(t *testing.T) {
	err := agenterror.Wrapf(agenterror.ErrInvariantViolation, "field %q mismatch", "role")

	require.ErrorIs(t, err, agenterror.ErrInvariantViolation)
	require.Equal(t, `field "role" mismatch`, err.Error())
}

func TestErrorfDoesNotWrapItsArguments(t *testing.T) {
	err := agenterror.Errorf("unsupported input item of type %T", 7)

	require.False(t, errors.Is(err, agenterror.ErrInvariantViolation))
	require.Equal(t, "unsupported input item of type int", err.Error())
}

func TestFromErrorReturnsExistingProducerErrorUnchanged(t *testing.T) {
	pe := agenterror.NewProducerError("boom")

	require.Same(t, pe, agenterror.FromError(pe))
}

func TestFromErrorWrapsPlainErrorVerbatim(t *testing.T) {
	cause := errors.New("disk full")

	pe := agenterror.FromError(cause)

	require.ErrorIs(t, pe, cause)
	require.Equal(t, "disk full", pe.Error())
}

func TestWrapProducerErrorDefaultsMessageToCauseError(t *testing.T) {
	cause := errors.New("timeout")

	pe := agenterror.WrapProducerError("", cause)

	require.Equal(t, "timeout", pe.Error())
	require.ErrorIs(t, pe, cause)
}
