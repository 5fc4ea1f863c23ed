package storage

import (
	"os"
	"testing"

	"github.com/moby/sys/reexec"
)

func TestMain(m *testing.M) {
	// the test binary doubles as the isolation worker
	if reexec.Init() {
		return
	}
	os.Exit(m.Run())
}
