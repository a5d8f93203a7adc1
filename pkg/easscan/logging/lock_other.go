//go:build !unix

package logging

import "os"

// Cross-process locking is only provided on unix; the in-process mutex
// still serialises writes.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
