package service

import (
	"os"
	"testing"

	"salespulse-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}
