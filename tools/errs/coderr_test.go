package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeErrorWrapKeepsCode(t *testing.T) {
	err := ErrNoPermission.WrapMsg("not a participant", "chat_id", "c1")
	require.Error(t, err)
	require.True(t, ErrNoPermission.Is(err))
	require.False(t, ErrArgs.Is(err))
	require.Contains(t, err.Error(), "chat_id=c1")
}

func TestCodeErrorWrapDoesNotMutatePredefined(t *testing.T) {
	_ = ErrArgs.WrapMsg("first", "k", "v")
	require.Empty(t, ErrArgs.Detail) // 预定义错误不能被污染
}

func TestCodeErrorIsThroughWrapping(t *testing.T) {
	inner := ErrRecordNotFound.WrapMsg("conn not registered")
	outer := fmt.Errorf("dispatch: %w", inner)
	require.True(t, ErrRecordNotFound.Is(outer))
}

func TestWithDetailAccumulates(t *testing.T) {
	e := ErrArgs.WithDetail("a").WithDetail("b")
	require.Contains(t, e.Error(), "a, b")
}

func TestWrapNil(t *testing.T) {
	require.NoError(t, Wrap(nil))
	require.NoError(t, WrapMsg(nil, "ignored"))
}
