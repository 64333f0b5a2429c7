package search

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestSearchBackoff(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
