package consolelog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

func TestNew_ReturnsUsableLogger(t *testing.T) {
	svc := New(logging.LevelInfo)
	assert.NotNil(t, svc.Logger())
	assert.Equal(t, logging.LevelInfo, svc.Logger().GetLevel())
}

func TestInterfaceHash_IsStable(t *testing.T) {
	assert.Equal(t, ids.InterfaceOf[ILog](), InterfaceHash)
	assert.NotZero(t, InterfaceHash)
}
