package memory_test

import (
	"testing"

	"github.com/nfrund/topicspace/internal/space"
	"github.com/nfrund/topicspace/internal/space/spacetest"
)

func TestConformance(t *testing.T) {
	spacetest.Run(t, func(t *testing.T) space.Space {
		return newSpace(t)
	})
}
