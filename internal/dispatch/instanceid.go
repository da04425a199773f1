package dispatch

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateInstanceID names this process as a claim owner. Every claim records
// it in claimed_by, so records left behind by a dead process can be
// attributed when startup recovery re-queues them.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "soundhoard"
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
