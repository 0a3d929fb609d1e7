package temporalworker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yungbote/lifeprint-backend/internal/temporalx"
)

func TestNewRunnerRequiresClient(t *testing.T) {
	_, err := NewRunner(nil, temporalx.Config{}, nil, nil, nil, nil, 1)
	assert.Error(t, err)
}
