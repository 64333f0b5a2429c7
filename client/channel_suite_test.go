package client

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestChannelFSM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
