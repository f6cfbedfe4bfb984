package cnc_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/cnc"
	"github.com/404wolf/firefuse/firefuse/firerest"
	"github.com/404wolf/firefuse/firefuse/firestep"
)

func TestController(t *testing.T) {
	config, err := firerest.Parse(`{"cnc": {"x": {}, "y": {"serial": "/dev/ttyACM0"}, "z": {"serial": "/dev/missing"}}}`)
	require.NoError(t, err)

	opened := map[string]*firestep.NullLink{}
	open := func(serial string) (firestep.Link, error) {
		if serial == "/dev/missing" {
			return nil, errors.New("no such device")
		}
		link := firestep.NewNullLink()
		opened[serial] = link
		return link, nil
	}
	controller := cnc.NewController(config, open, zap.NewNop().Sugar())
	defer controller.Close()

	assert.Equal(t, []string{"x", "y", "z"}, controller.Drives())
	assert.True(t, controller.HasDrive("z"), "unopenable drives stay listed")
	assert.False(t, controller.HasDrive("w"))

	state, err := controller.State("x")
	require.NoError(t, err)
	assert.Equal(t, firestep.IdleState, string(state))

	require.NoError(t, controller.Write("y", []byte("G0X1")))
	assert.Equal(t, []byte("G0X1\n"), opened["/dev/ttyACM0"].Last())
	state, err = controller.State("y")
	require.NoError(t, err)
	assert.Contains(t, string(state), "G0X1")

	err = controller.Write("y", []byte(strings.Repeat("G", firestep.MaxCommandLen+1)))
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = controller.State("w")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, controller.Write("w", []byte("G28")), common.ErrNotFound)
}
