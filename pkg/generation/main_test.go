package generation_test

import (
	"os"
	"testing"

	"github.com/d4l-data4life/go-chat-host/pkg/config"
)

// Executed before test runs in this package (fails otherwise)
func TestMain(m *testing.M) {
	config.SetupEnv()
	config.SetupLogger()
	os.Exit(m.Run())
}
