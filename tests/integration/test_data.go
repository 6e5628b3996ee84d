package integration

import (
	"fmt"
	"time"
)

// TestAccount generates unique test credentials using timestamp
func TestAccount(suffix string) (email, displayName, password string) {
	ts := time.Now().Unix()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	displayName = fmt.Sprintf("tester-%d-%s", ts, suffix)
	password = "TestPassword123"
	return
}
