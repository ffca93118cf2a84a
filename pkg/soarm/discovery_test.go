package soarm

import (
	"testing"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/stretchr/testify/assert"
)

func TestCandidatePorts(t *testing.T) {
	ports := []string{
		"/dev/ttyUSB0",
		"/dev/tty.Bluetooth-Incoming-Port",
		"/dev/ttyACM1",
		"COM3",
	}
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyACM1", "COM3"}, candidatePorts(ports))
}

func TestHasAllServos(t *testing.T) {
	found := []feetech.FoundServo{{ID: 1}, {ID: 2}, {ID: 3}}

	assert.True(t, hasAllServos(found, []int{1, 2, 3}))
	assert.False(t, hasAllServos(found, []int{1, 2, 4}), "wrong id set")
	assert.False(t, hasAllServos(found, []int{1, 2}), "extra servo on the bus")
	assert.False(t, hasAllServos(found[:2], []int{1, 2, 3}), "missing servo")
}
