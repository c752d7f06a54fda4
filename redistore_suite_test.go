package redistore

import (
	"testing"

	. "github.com/bsm/ginkgo/v2"
	. "github.com/bsm/gomega"
)

func TestRedistore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "redistore")
}
